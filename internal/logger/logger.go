// Package logger предоставляет асинхронный логгер с префиксом сервиса и уровнями.
// Запись идёт через буферизованный канал, чтобы горячий путь (отправка сообщений,
// рассылка в WebSocket) никогда не блокировался на stdout.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const asyncBufferSize = 8192

// slowCallThreshold: на уровне info LogDuration пишет только вызовы медленнее этого.
const slowCallThreshold = 100 * time.Millisecond

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	prefix   atomic.Value // string
	logLevel atomic.Int32
	ch       chan string
	once     sync.Once
	dropped  atomic.Int64
)

func init() {
	logLevel.Store(int32(ParseLevel(os.Getenv("LOG_LEVEL"))))
	prefix.Store("")
}

// ParseLevel: "debug"/"trace", "warn", "error" в Level; всё остальное info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetLevel переопределяет уровень, заданный через LOG_LEVEL (например, из конфига).
func SetLevel(l Level) {
	logLevel.Store(int32(l))
}

func enabled(l Level) bool {
	return Level(logLevel.Load()) <= l
}

func initWorker() {
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(msg string) {
	once.Do(initWorker)
	select {
	case ch <- msg:
	default:
		// буфер полон, теряем запись, но считаем
		dropped.Add(1)
	}
}

// Dropped возвращает число записей, потерянных из-за полного буфера.
func Dropped() int64 {
	return dropped.Load()
}

// SetPrefix задаёт префикс для всех последующих логов (например "api", "admin").
func SetPrefix(p string) {
	prefix.Store(p)
}

func tag() string {
	p, _ := prefix.Load().(string)
	if p == "" {
		return ""
	}
	return "[" + p + "] "
}

func Debugf(format string, v ...any) {
	if enabled(LevelDebug) {
		enqueue(tag() + "DEBUG: " + fmt.Sprintf(format, v...))
	}
}

func Info(v ...any) {
	if enabled(LevelInfo) {
		enqueue(tag() + fmt.Sprint(v...))
	}
}

func Infof(format string, v ...any) {
	if enabled(LevelInfo) {
		enqueue(tag() + fmt.Sprintf(format, v...))
	}
}

func Warnf(format string, v ...any) {
	if enabled(LevelWarn) {
		enqueue(tag() + "WARN: " + fmt.Sprintf(format, v...))
	}
}

// Error всегда пишется, независимо от уровня.
func Error(v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprintf(format, v...))
}

// LogDuration пишет fn и время выполнения. На уровне debug пишется каждый вызов,
// иначе только вызовы дольше 100ms.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if enabled(LevelDebug) || (enabled(LevelInfo) && elapsed >= slowCallThreshold) {
		enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration: defer logger.DeferLogDuration("messageStore.Append", time.Now())()
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
