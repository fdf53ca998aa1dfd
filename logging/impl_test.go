package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func TestObservedSublogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	sub := logger.Sublogger("erd")

	sub.Debugw("candidate rejected", "from", 3, "to", 70)
	sub.Errorf("dataset invalid after %d failures", 5)

	test.That(t, logs.Len(), test.ShouldEqual, 2)
	entries := logs.All()
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "erd")
	test.That(t, entries[0].Level, test.ShouldEqual, zapcore.DebugLevel)
	test.That(t, entries[0].ContextMap()["to"], test.ShouldEqual, int64(70))
	test.That(t, entries[1].Message, test.ShouldEqual, "dataset invalid after 5 failures")

	nested := sub.Sublogger("icp")
	nested.Info("hello")
	test.That(t, logs.FilterLoggerName("erd.icp").Len(), test.ShouldEqual, 1)
}

func TestGlobal(t *testing.T) {
	orig := Global()
	defer ReplaceGlobal(orig)

	logger := NewBlankLogger("blank")
	ReplaceGlobal(logger)
	test.That(t, Global(), test.ShouldEqual, logger)
	test.That(t, Global().Sync(), test.ShouldBeNil)
}
