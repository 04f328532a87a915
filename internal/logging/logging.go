// Package logging configures the process logger.
package logging

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Formats accepted by Setup.
const (
	FormatText = "text"
	FormatJSON = "json"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// New returns a logger writing to out at level in the given format.
func New(level, format string, out io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(lvl)

	switch format {
	case FormatText, "":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	case FormatJSON:
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	default:
		return nil, fmt.Errorf("invalid log format %q (valid formats: text, json)", format)
	}
	return log, nil
}

// Setup applies level and format to the standard logger as well and returns
// it, so packages that fall back to logrus.StandardLogger agree with the
// logger handed to components.
func Setup(level, format string, out io.Writer) (*logrus.Logger, error) {
	configured, err := New(level, format, out)
	if err != nil {
		return nil, err
	}
	std := logrus.StandardLogger()
	std.SetOutput(configured.Out)
	std.SetLevel(configured.GetLevel())
	std.SetFormatter(configured.Formatter)
	return std, nil
}
