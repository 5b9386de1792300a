package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLoggerWritesDailyFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	logger, closer, err := NewLogger(Config{Level: "info", Dir: dir})
	if err != nil {
		t.Fatalf("创建 logger 失败: %v", err)
	}
	logger.Info().Str("component", "test").Msg("hello file")
	if err := closer.Close(); err != nil {
		t.Fatalf("关闭日志文件失败: %v", err)
	}

	name := filepath.Join(dir, time.Now().Format(FileDateLayout)+".log")
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Fatalf("日志文件应包含消息, 实际 %q", data)
	}
}

func TestNewLoggerWithoutDir(t *testing.T) {
	_, closer, err := NewLogger(Config{Level: "not-a-level"})
	if err != nil {
		t.Fatalf("未配置目录时不应报错: %v", err)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("nop closer 不应报错: %v", err)
	}
}

func TestPruneRemovesOnlyExpiredDatedFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

	files := []string{
		"2024_01_10.log", // today
		"2024_01_07.log", // exactly at retention edge, kept
		"2024_01_06.log", // expired
		"2023_12_01.log", // expired
		"notes.log",      // not date-stamped
		"2023_01_01.txt", // wrong extension
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644); err != nil {
			t.Fatalf("准备文件失败: %v", err)
		}
	}

	removed, err := Prune(dir, 3, now)
	if err != nil {
		t.Fatalf("清理失败: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("应删除 2 个文件, 实际 %v", removed)
	}

	for _, keep := range []string{"2024_01_10.log", "2024_01_07.log", "notes.log", "2023_01_01.txt"} {
		if _, err := os.Stat(filepath.Join(dir, keep)); err != nil {
			t.Fatalf("%s 不应被删除: %v", keep, err)
		}
	}
	for _, gone := range []string{"2024_01_06.log", "2023_12_01.log"} {
		if _, err := os.Stat(filepath.Join(dir, gone)); !os.IsNotExist(err) {
			t.Fatalf("%s 应被删除", gone)
		}
	}
}

func TestPruneMissingDir(t *testing.T) {
	removed, err := Prune(filepath.Join(t.TempDir(), "absent"), 3, time.Now())
	if err != nil || len(removed) != 0 {
		t.Fatalf("目录不存在时应静默返回, 实际 %v %v", removed, err)
	}
	if _, err := Prune("", 3, time.Now()); err == nil {
		t.Fatal("未配置目录应报错")
	}
}
