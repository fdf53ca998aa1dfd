package logging

import (
	"go.uber.org/zap"
)

type impl struct {
	*zap.SugaredLogger
}

func (imp *impl) Sublogger(subname string) Logger {
	return &impl{imp.SugaredLogger.Named(subname)}
}

func (imp *impl) Desugar() *zap.Logger {
	return imp.SugaredLogger.Desugar()
}
