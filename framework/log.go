package framework

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func NewLogger(out io.Writer, level, format string) (*logrus.Entry, error) {
	log := logrus.NewEntry(logrus.New())
	log.Logger.SetOutput(out)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid log level %q", ErrConfig, level)
	}
	log.Logger.SetLevel(lvl)

	switch format {
	case "", "text":
		log.Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.Logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("%w: invalid log format %q", ErrConfig, format)
	}
	return log, nil
}

// LoggerFromCLI builds the logger configured by LogFlags, writing to the
// app's standard output.
func LoggerFromCLI(ctx *cli.Context) (*logrus.Entry, error) {
	return NewLogger(ctx.App.Writer, ctx.String(LogLevelFlag.Name), ctx.String(LogFormatFlag.Name))
}
