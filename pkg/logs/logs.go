package logs

import (
	"bytes"
	"fmt"
	"log"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/component-base/featuregate"
	"k8s.io/component-base/logs"
	logsapi "k8s.io/component-base/logs/api/v1"

	_ "k8s.io/component-base/logs/json/register"
)

// sealer follows the [Kubernetes Logging Conventions] and writes logs in the
// [Kubernetes text logging format] by default. It does not support named
// levels (aka. severity), instead it uses arbitrary levels. Every message is
// written to stderr, because stdout carries the ciphertext
// or plaintext when sealer is used in a pipeline.
//
// Logs never contain key material or plaintext. Key fingerprints, sizes and
// chunk counts are logged at the Debug level.
//
// Further reading:
//  - [Kubernetes logging conventions](https://github.com/kubernetes/community/blob/master/contributors/devel/sig-instrumentation/logging.md)
//  - [Kubernetes text logging format](https://github.com/kubernetes/community/blob/master/contributors/devel/sig-instrumentation/logging.md#text-logging-format)
//  - [Why not named levels, like Info/Warning/Error?](https://github.com/go-logr/logr?tab=readme-ov-file#why-not-named-levels-like-infowarningerror)
//  - [Examples of using k8s.io/component-base/logs](https://github.com/kubernetes/kubernetes/tree/master/staging/src/k8s.io/component-base/logs/example),
//    upon which this code was based.

var (
	// All but the essential logging flags are hidden. The hidden flags can
	// still be used, for example --log-text-split-stream=true to send Info
	// messages to stdout.
	visibleFlagNames = sets.New[string]("v", "vmodule", "logging-format")
	// This default logging configuration will be updated with values from the
	// logging flags, even those that are hidden.
	configuration = logsapi.NewLoggingConfiguration()
	// Logging features will be added to this feature gate, but the
	// feature-gates flag will be hidden from the user.
	features = featuregate.NewFeatureGate()
)

const (
	// Standard log verbosity levels.
	// Use these instead of integers in sealer code.
	Info  = 0
	Debug = 1
	Trace = 2
)

func init() {
	runtime.Must(logsapi.AddFeatureGates(features))
	// Turn on ALPHA options to enable the split-stream logging options.
	runtime.Must(features.OverrideDefault(logsapi.LoggingAlphaOptions, true))
}

// AddFlags adds log related flags to the supplied flag set.
func AddFlags(fs *pflag.FlagSet) {
	var tfs pflag.FlagSet
	logsapi.AddFlags(configuration, &tfs)
	features.AddFlag(&tfs)
	tfs.VisitAll(func(f *pflag.Flag) {
		if !visibleFlagNames.Has(f.Name) {
			_ = tfs.MarkHidden(f.Name)
		}

		// Drop the note about BETA features from the upstream usage string.
		if f.Name == "logging-format" {
			f.Usage = `Sets the log format. Permitted formats: "json", "text".`
		}

		// `--v` is renamed to the more common `--log-level`; `-v` still works.
		if f.Name == "v" {
			f.Name = "log-level"
			f.Shorthand = "v"
			f.Usage = fmt.Sprintf("%s. 0=Info, 1=Debug, 2=Trace. (default: 0)", f.Usage)
		}
	})
	fs.AddFlagSet(&tfs)
}

// Initialize uses k8s.io/component-base/logs, to configure the following global
// loggers: log, slog, and klog. All are configured to write in the same format.
func Initialize() error {
	// This configures the global logger in klog *and* slog.
	logs.InitLogs()
	if err := logsapi.ValidateAndApply(configuration, features); err != nil {
		return fmt.Errorf("Error in logging configuration: %s", err)
	}

	// Thanks to logs.InitLogs, slog.Default now uses klog as its backend.
	// Anything still writing to the standard library logger is routed through
	// it too, so that every message has the same format.
	log.Default().SetOutput(LogToSlogWriter{Slog: slog.Default(), Source: "log"})
	log.Default().SetFlags(0)

	return nil
}

// LogToSlogWriter adapts the standard library logger to slog. Lines that
// mention an error or a failure are logged at the error level.
type LogToSlogWriter struct {
	Slog   *slog.Logger
	Source string
}

func (w LogToSlogWriter) Write(p []byte) (n int, err error) {
	// log.Printf writes a newline at the end of the message, so we need to trim
	// it.
	p = bytes.TrimSuffix(p, []byte("\n"))

	message := string(p)
	if strings.Contains(message, "error") ||
		strings.Contains(message, "failed") {
		w.Slog.With("source", w.Source).Error(message)
	} else {
		w.Slog.With("source", w.Source).Info(message)
	}
	return len(p), nil
}
