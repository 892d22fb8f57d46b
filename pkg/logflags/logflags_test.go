package logflags

import (
	"bytes"
	"io"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func resetFlags() {
	server, gdbWire, snapshot, configLog = false, false, false, false
}

func TestMakeLogger_usingLoggerFactory(t *testing.T) {
	if loggerFactory != nil {
		t.Fatalf("expected loggerFactory to be nil; but was <%v>", loggerFactory)
	}
	defer func() {
		loggerFactory = nil
	}()
	if logOut != nil {
		t.Fatalf("expected logOut to be nil; but was <%v>", logOut)
	}
	logOut = &bufferWriter{}
	defer func() {
		logOut = nil
	}()

	expectedLogger := &logrusLogger{}
	SetLoggerFactory(func(flag bool, fields Fields, out io.Writer) Logger {
		if !flag {
			t.Fatalf("expected flag to be true")
		}
		if len(fields) != 1 || fields["foo"] != "bar" {
			t.Fatalf("expected fields to be {'foo':'bar'}; but was <%v>", fields)
		}
		if out != logOut {
			t.Fatalf("expected out to be <%v>; but was <%v>", logOut, out)
		}
		return expectedLogger
	})

	actual := makeLogger(true, Fields{"foo": "bar"})
	if actual != expectedLogger {
		t.Fatalf("expected actual to <%v>; but was <%v>", expectedLogger, actual)
	}
}

func TestMakeLogger_withFlagFalse(t *testing.T) {
	actual := makeLogger(false, Fields{"foo": "bar"})
	actualEntry, expectedType := actual.(*logrusLogger)
	if !expectedType {
		t.Fatalf("expected actual to be of type <%v>; but was <%v>", reflect.TypeOf((*logrusLogger)(nil)), reflect.TypeOf(actual))
	}
	if actualEntry.Entry.Logger.Level != logrus.ErrorLevel {
		t.Fatalf("expected actualEntry.Entry.Logger.Level to be <%v>; but was <%v>", logrus.ErrorLevel, actualEntry.Logger.Level)
	}
	if len(actualEntry.Entry.Data) != 1 || actualEntry.Data["foo"] != "bar" {
		t.Fatalf("expected actualEntry.Entry.Data to be {'foo':'bar'}; but was <%v>", actualEntry.Data)
	}
}

func TestMakeLogger_usingDefaultBehavior(t *testing.T) {
	logOut = &bufferWriter{}
	defer func() {
		logOut = nil
	}()

	actual := makeLogger(true, Fields{"foo": "bar"})

	actualEntry, expectedType := actual.(*logrusLogger)
	if !expectedType {
		t.Fatalf("expected actual to be of type <%v>; but was <%v>", reflect.TypeOf((*logrusLogger)(nil)), reflect.TypeOf(actual))
	}
	if actualEntry.Entry.Logger.Level != logrus.DebugLevel {
		t.Fatalf("expected actualEntry.Entry.Logger.Level to be <%v>; but was <%v>", logrus.DebugLevel, actualEntry.Logger.Level)
	}
	if actualEntry.Entry.Logger.Out != logOut {
		t.Fatalf("expected actualEntry.Entry.Logger.Out to be <%v>; but was <%v>", logOut, actualEntry.Logger.Out)
	}
	if actualEntry.Entry.Logger.Formatter != textFormatterInstance {
		t.Fatalf("expected actualEntry.Entry.Logger.Formatter to be <%v>; but was <%v>", textFormatterInstance, actualEntry.Logger.Formatter)
	}
}

func TestSetup(t *testing.T) {
	defer resetFlags()

	if err := Setup(false, "gdbwire", ""); err != errLogstrWithoutLog {
		t.Fatalf("expected %v; got %v", errLogstrWithoutLog, err)
	}

	resetFlags()
	if err := Setup(true, "", ""); err != nil {
		t.Fatal(err)
	}
	if !Server() || GdbWire() || Snapshot() || Config() {
		t.Fatalf("only server logging should be enabled by default")
	}

	resetFlags()
	if err := Setup(true, "gdbwire,snapshot,config", ""); err != nil {
		t.Fatal(err)
	}
	if Server() || !GdbWire() || !Snapshot() || !Config() {
		t.Fatalf("wrong components enabled: server=%v gdbwire=%v snapshot=%v config=%v", Server(), GdbWire(), Snapshot(), Config())
	}
}

func TestSetup_logDest(t *testing.T) {
	defer resetFlags()
	defer func() {
		logOut = nil
	}()

	dest := filepath.Join(t.TempDir(), "rspd.log")
	if err := Setup(true, "server", dest); err != nil {
		t.Fatal(err)
	}
	if textFormatterInstance.DisableColors != true {
		t.Fatalf("colors should be disabled when logging to a file")
	}
	fh := logOut
	defer fh.Close()
	buf := &bufferWriter{}
	logOut = buf
	ServerLogger().Debugf("accepted %s", "127.0.0.1")
	if !strings.Contains(buf.String(), "accepted 127.0.0.1") || !strings.Contains(buf.String(), "layer=server") {
		t.Fatalf("unexpected log output %q", buf.String())
	}
}

type bufferWriter struct {
	bytes.Buffer
}

func (bw *bufferWriter) Close() error {
	return nil
}

func TestComponentLoggers(t *testing.T) {
	defer resetFlags()
	defer func() {
		logOut = nil
	}()

	resetFlags()
	if err := Setup(true, "config", ""); err != nil {
		t.Fatal(err)
	}
	buf := &bufferWriter{}
	logOut = buf

	if !Config() || Snapshot() {
		t.Fatalf("wrong components enabled: config=%v snapshot=%v", Config(), Snapshot())
	}
	ConfigLogger().Debugf("loaded %s", "config.yml")
	SnapshotLogger().Debugf("mapped %#x", 0x1000)
	out := buf.String()
	if !strings.Contains(out, "layer=config") || !strings.Contains(out, "loaded config.yml") {
		t.Fatalf("config logger did not log: %q", out)
	}
	if strings.Contains(out, "layer=snapshot") {
		t.Fatalf("disabled snapshot logger logged: %q", out)
	}
}
