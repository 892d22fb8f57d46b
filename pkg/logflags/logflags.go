package logflags

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	colorable "github.com/mattn/go-colorable"
	isatty "github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var server = false
var gdbWire = false
var snapshot = false
var configLog = false

// logOut is the destination of every logger, nil means standard error.
var logOut io.WriteCloser

var textFormatterInstance = &logrus.TextFormatter{FullTimestamp: true}

func makeLogger(flag bool, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(flag, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	} else {
		logger.Logger.Out = colorable.NewColorableStderr()
	}
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.ErrorLevel
	}
	return &logrusLogger{logger}
}

// GdbWire returns true if the gdbserial package should log all the packets
// exchanged with the client.
func GdbWire() bool {
	return gdbWire
}

// GdbWireLogger returns a configured logger for the gdbserial wire protocol.
func GdbWireLogger() Logger {
	return makeLogger(gdbWire, Fields{"layer": "gdbconn"})
}

// Server returns true if the protocol server should log session events.
func Server() bool {
	return server
}

// ServerLogger returns a logger for the protocol server.
func ServerLogger() Logger {
	return makeLogger(server, Fields{"layer": "server"})
}

// Snapshot returns true if the snapshot target should log.
func Snapshot() bool {
	return snapshot
}

// SnapshotLogger returns a logger for the snapshot target.
func SnapshotLogger() Logger {
	return makeLogger(snapshot, Fields{"layer": "snapshot"})
}

// Config returns true if configuration loading should be logged.
func Config() bool {
	return configLog
}

// ConfigLogger returns a logger for configuration loading.
func ConfigLogger() Logger {
	return makeLogger(configLog, Fields{"layer": "config"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "rspd-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	textFormatterInstance.DisableColors = !isTerminal(logOut)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logOut != nil {
		log.SetOutput(logOut)
	}
	if logstr == "" {
		logstr = "server"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "server":
			server = true
		case "gdbwire":
			gdbWire = true
		case "snapshot":
			snapshot = true
		case "config":
			configLog = true
		}
	}
	return nil
}

// isTerminal returns true if out (or standard error when out is nil) is
// attached to a terminal.
func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	if out == nil {
		f, ok = os.Stderr, true
	}
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}
