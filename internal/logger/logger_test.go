package logger

import (
	"testing"

	"go.uber.org/zap"
)

func TestInitKeepsLoggerIdentity(t *testing.T) {
	info, errorLog, debug := Info, Error, Debug
	if err := Init(Options{Debug: true, JSON: true}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { install(zap.NewNop()) })

	if Info != info || Error != errorLog || Debug != debug {
		t.Fatal("Init replaced a logger instead of redirecting it")
	}
	Info.Println("info after Init")
	Debug.Println("debug after Init")
	Sync()
}
