package messagepipeline

import (
	"fmt"

	plog "github.com/apache/pulsar-client-go/pulsar/log"
	"github.com/rs/zerolog"
)

// pulsarLogger adapts a zerolog.Logger to the pulsar client's log.Logger.
// The same struct satisfies both plog.Logger and plog.Entry, so the With*
// methods can keep returning enriched copies of themselves.
type pulsarLogger struct {
	l zerolog.Logger
}

func newPulsarLogger(logger zerolog.Logger) plog.Logger {
	return &pulsarLogger{l: logger.With().Str("component", "pulsar").Logger()}
}

func (p *pulsarLogger) withFields(fields plog.Fields) *pulsarLogger {
	return &pulsarLogger{l: p.l.With().Fields(map[string]interface{}(fields)).Logger()}
}

func (p *pulsarLogger) SubLogger(fields plog.Fields) plog.Logger {
	return p.withFields(fields)
}

func (p *pulsarLogger) WithFields(fields plog.Fields) plog.Entry {
	return p.withFields(fields)
}

func (p *pulsarLogger) WithField(name string, value interface{}) plog.Entry {
	return &pulsarLogger{l: p.l.With().Interface(name, value).Logger()}
}

func (p *pulsarLogger) WithError(err error) plog.Entry {
	return &pulsarLogger{l: p.l.With().Err(err).Logger()}
}

func (p *pulsarLogger) Debug(args ...interface{}) { p.l.Debug().Msg(fmt.Sprint(args...)) }
func (p *pulsarLogger) Info(args ...interface{})  { p.l.Info().Msg(fmt.Sprint(args...)) }
func (p *pulsarLogger) Warn(args ...interface{})  { p.l.Warn().Msg(fmt.Sprint(args...)) }
func (p *pulsarLogger) Error(args ...interface{}) { p.l.Error().Msg(fmt.Sprint(args...)) }

func (p *pulsarLogger) Debugf(format string, args ...interface{}) { p.l.Debug().Msgf(format, args...) }
func (p *pulsarLogger) Infof(format string, args ...interface{})  { p.l.Info().Msgf(format, args...) }
func (p *pulsarLogger) Warnf(format string, args ...interface{})  { p.l.Warn().Msgf(format, args...) }
func (p *pulsarLogger) Errorf(format string, args ...interface{}) { p.l.Error().Msgf(format, args...) }
