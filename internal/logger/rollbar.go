package logger

import (
	"log"
	"os"

	"github.com/rollbar/rollbar-go"
)

// RollbarLogger writes every line to the std logger and reports Warn and
// above to Rollbar.
type RollbarLogger struct {
	*StdLogger
}

var _ Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, token, env, host string) *RollbarLogger {
	rollbar.SetToken(token)
	rollbar.SetEnvironment(env)
	rollbar.SetServerHost(host)
	rollbar.SetEnabled(token != "")
	return &RollbarLogger{StdLogger: NewStdLogger(std)}
}

// New picks the Rollbar logger when a token is configured.
func New(token, env string) Logger {
	std := log.New(os.Stderr, "", log.LstdFlags)
	if token == "" {
		return NewStdLogger(std)
	}
	host, _ := os.Hostname()
	return NewRollbarLogger(std, token, env, host)
}

func (l *RollbarLogger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(report(msg, args)...)
	l.StdLogger.Warn(msg, args...)
}

func (l *RollbarLogger) Error(msg string, args ...interface{}) {
	rollbar.Error(report(msg, args)...)
	l.StdLogger.Error(msg, args...)
}

func (l *RollbarLogger) Fatal(msg string, args ...interface{}) {
	rollbar.Critical(report(msg, args)...)
	rollbar.Wait()
	l.StdLogger.Fatal(msg, args...)
}

// Close flushes pending reports.
func (l *RollbarLogger) Close() { rollbar.Close() }

// report shapes args the way rollbar expects: the first error becomes the
// reported error, key/value pairs become custom data.
func report(msg string, args []interface{}) []interface{} {
	out := []interface{}{msg}
	extras := map[string]interface{}{}
	for i := 0; i < len(args); i++ {
		switch v := args[i].(type) {
		case error:
			out = append(out, v)
		case string:
			if i+1 < len(args) {
				extras[v] = args[i+1]
				i++
			}
		}
	}
	if len(extras) > 0 {
		out = append(out, extras)
	}
	return out
}
