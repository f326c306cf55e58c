package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"wisefido-triage/internal/models"
)

// JournalSink 本地 JSONL 归档，每行一个信封
type JournalSink struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenJournal 打开（必要时创建）归档文件
func OpenJournal(path string) (*JournalSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("journal: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return &JournalSink{path: path, file: f}, nil
}

func (j *JournalSink) Name() string { return "journal" }

// Path 归档文件路径
func (j *JournalSink) Path() string { return j.path }

func (j *JournalSink) Record(_ context.Context, envelope *models.TelemetryEnvelope) error {
	line, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("journal: marshal envelope: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.file.Write(line); err != nil {
		return fmt.Errorf("journal: write envelope: %w", err)
	}
	return nil
}

// Close 关闭归档文件
func (j *JournalSink) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
