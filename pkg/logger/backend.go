package logger

import (
	"log/slog"
	"sync/atomic"
	"time"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Broadcast с сотней получателей даёт сотню одинаковых "delivery failed"
// за миллисекунды. Сэмплер режет такие всплески по (уровень, сообщение).
const (
	defaultSampleTick       = time.Second
	defaultSampleInitial    = 100
	defaultSampleThereafter = 10
)

var dropped atomic.Uint64

// Dropped returns how many zap entries the sampler has discarded since start.
func Dropped() uint64 { return dropped.Load() }

func newStdHandler(cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: cfg.level(), AddSource: cfg.AddSource}
	if cfg.Env == EnvDev {
		return slog.NewTextHandler(cfg.output(), opts)
	}
	return slog.NewJSONHandler(cfg.output(), opts)
}

func newZapHandler(cfg Config) slog.Handler {
	lvl := cfg.level()
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapEncoder(cfg.AddSource)),
		zapcore.AddSync(cfg.output()),
		zapLevel(lvl),
	)
	core = sampled(core, cfg)
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return slogzap.Option{Level: lvl, Logger: z}.NewZapHandler()
}

func zapEncoder(withCaller bool) zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.MessageKey = "msg"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	enc.EncodeLevel = zapcore.LowercaseLevelEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder
	if withCaller {
		enc.EncodeCaller = zapcore.ShortCallerEncoder
	} else {
		enc.CallerKey = zapcore.OmitKey
	}
	return enc
}

// sampled оборачивает core сэмплером; SampleInitial < 0 выключает его.
// Ошибки не сэмплируются: их мало, и терять их нельзя.
func sampled(core zapcore.Core, cfg Config) zapcore.Core {
	if cfg.SampleInitial < 0 {
		return core
	}
	tick := cfg.SampleTick
	if tick <= 0 {
		tick = defaultSampleTick
	}
	first := cfg.SampleInitial
	if first == 0 {
		first = defaultSampleInitial
	}
	then := cfg.SampleThereafter
	if then <= 0 {
		then = defaultSampleThereafter
	}
	hook := zapcore.SamplerHook(func(_ zapcore.Entry, dec zapcore.SamplingDecision) {
		if dec&zapcore.LogDropped != 0 {
			dropped.Add(1)
		}
	})
	return errorsUnsampled{
		Core:    core,
		sampler: zapcore.NewSamplerWithOptions(core, tick, first, then, hook),
	}
}

// errorsUnsampled пропускает Error и выше мимо сэмплера.
type errorsUnsampled struct {
	zapcore.Core
	sampler zapcore.Core
}

func (c errorsUnsampled) With(fields []zapcore.Field) zapcore.Core {
	return errorsUnsampled{Core: c.Core.With(fields), sampler: c.sampler.With(fields)}
}

func (c errorsUnsampled) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if e.Level >= zapcore.ErrorLevel {
		return c.Core.Check(e, ce)
	}
	return c.sampler.Check(e, ce)
}

// zapLevel: шаг slog-уровней 4, у zap 1.
func zapLevel(lvl slog.Level) zapcore.Level {
	z := zapcore.Level(lvl / 4)
	switch {
	case z < zapcore.DebugLevel:
		return zapcore.DebugLevel
	case z > zapcore.ErrorLevel:
		return zapcore.ErrorLevel
	}
	return z
}
