package logger

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Log is the process-wide logger. It is a no-op until Initialize runs.
	Log = zap.NewNop()
)

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

type ctxKey struct{}

// Initialize builds the logger for env ("production" or anything else).
func Initialize(env, service string) *zap.Logger {
	return InitializeWithWriter(env, service, nil)
}

// InitializeWithWriter also tees JSON entries to sink, typically the
// CloudWatch Logs writer.
func InitializeWithWriter(env, service string, sink io.Writer) *zap.Logger {
	var config zap.Config
	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if sink != nil {
		level := zap.NewAtomicLevelAt(config.Level.Level())
		consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(config.EncoderConfig), zapcore.AddSync(os.Stdout), level)

		jsonConfig := config.EncoderConfig
		jsonConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		sinkCore := zapcore.NewCore(zapcore.NewJSONEncoder(jsonConfig), zapcore.AddSync(sink), level)

		Log = zap.New(zapcore.NewTee(consoleCore, sinkCore), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		built, err := config.Build()
		if err != nil {
			fmt.Printf("Failed to initialize logger: %v\n", err)
			os.Exit(1)
		}
		Log = built
	}

	if service != "" {
		Log = Log.With(zap.String("service", service))
	}
	return Log
}

// WithContext stores a request id on ctx.
func WithContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestID returns the request id carried by a gin or plain context.
func RequestID(ctx context.Context) string {
	if ginCtx, ok := ctx.(*gin.Context); ok {
		if v, exists := ginCtx.Get(RequestIDKey); exists {
			if s, ok := v.(string); ok {
				return s
			}
		}
		if ginCtx.Request == nil {
			return "unknown"
		}
		ctx = ginCtx.Request.Context()
	}
	if s, ok := ctx.Value(ctxKey{}).(string); ok {
		return s
	}
	return "unknown"
}

// FromContext returns Log annotated with the request id.
func FromContext(ctx context.Context) *zap.Logger {
	return Log.With(zap.String("request_id", RequestID(ctx)))
}

func Error(ctx context.Context, msg string, err error, fields ...zap.Field) {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	FromContext(ctx).Error(msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Warn(msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Info(msg, fields...)
}
