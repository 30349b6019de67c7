package utils

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// observed собирает logger поверх observer-ядра
func observed(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	z := zap.New(core)
	return &Logger{Logger: z, sugar: z.Sugar()}, logs
}

// readJSONLines читает файл лога построчно
func readJSONLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("не удалось открыть лог: %v", err)
	}
	defer f.Close()

	var out []map[string]interface{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("строка не JSON: %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

// ============================================================
// Файловый вывод через lumberjack
// ============================================================

func TestInitLogger_FileSinkWritesBotFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "botdash.log")
	logger := InitLogger(LogConfig{Level: "info", Format: "json", Output: path, MaxSizeMB: 1})

	bot := logger.WithBot("bot-1").WithDomain("https://eu.example.com")
	bot.Debug("poll skipped")
	bot.Info("bot status changed", Status("running"), HeartbeatAge(1500*time.Millisecond))
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	lines := readJSONLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("ожидалась одна запись (debug отсечен), получено %d", len(lines))
	}
	entry := lines[0]

	want := map[string]interface{}{
		"message": "bot status changed",
		"level":   "info",
		"bot_id":  "bot-1",
		"domain":  "https://eu.example.com",
		"status":  "running",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, ожидалось %v", k, entry[k], v)
		}
	}
	// длительности пишутся в миллисекундах
	if entry["heartbeat_age"] != float64(1500) {
		t.Errorf("heartbeat_age = %v, ожидалось 1500", entry["heartbeat_age"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("нет метки времени ts")
	}
	if _, ok := entry["caller"]; !ok {
		t.Error("нет поля caller")
	}
}

func TestInitLogger_FileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "botdash.log")

	first := InitLogger(LogConfig{Format: "json", Output: path})
	first.Info("first start")
	second := InitLogger(LogConfig{Format: "json", Output: path})
	second.Info("second start")

	lines := readJSONLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("перезапуск не должен обрезать файл, записей %d", len(lines))
	}
	if lines[0]["message"] != "first start" || lines[1]["message"] != "second start" {
		t.Errorf("неверный порядок записей: %v", lines)
	}
}

func TestInitLogger_TextFormatToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "botdash.log")
	logger := InitLogger(LogConfig{Level: "warn", Format: "text", Output: path})

	logger.Info("dropped")
	logger.WithDomain("https://us.example.com").Warn("candidate rejected the session")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("не удалось прочитать лог: %v", err)
	}
	text := string(data)
	if strings.Contains(text, "dropped") {
		t.Error("info не должен проходить при уровне warn")
	}
	if !strings.Contains(text, "WARN") || !strings.Contains(text, "candidate rejected the session") {
		t.Errorf("нет консольной записи warn: %q", text)
	}
	if !strings.Contains(text, `"domain": "https://us.example.com"`) {
		t.Errorf("нет поля domain: %q", text)
	}
}

func TestOpenOutput_UnwritablePathFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "botdash.log")

	ws := openOutput(LogConfig{Output: path})
	if ws == nil {
		t.Fatal("openOutput вернул nil")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("файл не должен создаваться: %v", err)
	}

	// logger остается рабочим
	logger := InitLogger(LogConfig{Output: path})
	logger.Info("still alive")
}

func TestOrDefault(t *testing.T) {
	tests := []struct {
		v, def, want int
	}{
		{0, 100, 100},
		{-3, 5, 5},
		{7, 14, 7},
	}
	for _, tt := range tests {
		if got := orDefault(tt.v, tt.def); got != tt.want {
			t.Errorf("orDefault(%d, %d) = %d, ожидалось %d", tt.v, tt.def, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, ожидалось %v", tt.in, got, tt.want)
		}
	}
}

// ============================================================
// Дочерние логгеры
// ============================================================

func TestLogger_ChildrenCarryContext(t *testing.T) {
	logger, logs := observed(zapcore.DebugLevel)

	engine := logger.WithComponent("liveness").WithBot("bot-7")
	engine.WithDomain("https://eu.example.com").Info("heartbeat answered")
	engine.Info("resolution started")
	logger.Info("server started")

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("ожидалось 3 записи, получено %d", len(entries))
	}

	first := entries[0].ContextMap()
	if first["component"] != "liveness" || first["bot_id"] != "bot-7" || first["domain"] != "https://eu.example.com" {
		t.Errorf("неполный контекст: %v", first)
	}

	second := entries[1].ContextMap()
	if _, ok := second["domain"]; ok {
		t.Error("domain не должен протекать в родительский logger")
	}
	if second["bot_id"] != "bot-7" {
		t.Errorf("bot_id = %v", second["bot_id"])
	}

	if len(entries[2].ContextMap()) != 0 {
		t.Errorf("корневой logger получил поля: %v", entries[2].ContextMap())
	}
}

func TestDomainFields(t *testing.T) {
	logger, logs := observed(zapcore.InfoLevel)

	logger.Info("fields",
		BotID("bot-1"),
		UserID("user-1"),
		Strategy("grid"),
		Domain("https://eu.example.com"),
		Status("running"),
		Phase("Ready"),
		Generation("gen-3"),
		RequestID("req-9"),
		Component("api"),
		HeartbeatAge(2*time.Second),
		Latency(12.5),
	)

	ctx := logs.All()[0].ContextMap()
	want := map[string]interface{}{
		"bot_id":        "bot-1",
		"user_id":       "user-1",
		"strategy":      "grid",
		"domain":        "https://eu.example.com",
		"status":        "running",
		"phase":         "Ready",
		"generation":    "gen-3",
		"request_id":    "req-9",
		"component":     "api",
		"heartbeat_age": 2 * time.Second,
		"latency_ms":    12.5,
	}
	if len(ctx) != len(want) {
		t.Errorf("полей %d, ожидалось %d: %v", len(ctx), len(want), ctx)
	}
	for k, v := range want {
		if ctx[k] != v {
			t.Errorf("%s = %v, ожидалось %v", k, ctx[k], v)
		}
	}
}

func TestInfow_KeepsDomainFields(t *testing.T) {
	logger, logs := observed(zapcore.InfoLevel)

	logger.Infow("bot mounted", BotID("bot-2"), Generation("gen-1"), Latency(3))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("ожидалась одна запись, получено %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["bot_id"] != "bot-2" || ctx["generation"] != "gen-1" || ctx["latency_ms"] != float64(3) {
		t.Errorf("поля потеряны: %v", ctx)
	}
}

// ============================================================
// Глобальный logger
// ============================================================

func TestGlobalLogger_ReplacedBySetGlobalLogger(t *testing.T) {
	prev := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(prev) })

	logger, logs := observed(zapcore.InfoLevel)
	SetGlobalLogger(logger)

	if L() != logger {
		t.Fatal("L() должен вернуть установленный logger")
	}

	Debug("not recorded")
	Warn("bot unreachable", BotID("bot-3"))
	Errorf("deploy %s failed", "bot-3")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("ожидалось 2 записи, получено %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel || entries[0].ContextMap()["bot_id"] != "bot-3" {
		t.Errorf("неверная запись warn: %+v", entries[0])
	}
	if entries[1].Level != zapcore.ErrorLevel || entries[1].Message != "deploy bot-3 failed" {
		t.Errorf("неверная запись error: %+v", entries[1])
	}
}
