package logflags

import (
	"errors"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var solib = false
var probes = false
var objfile = false
var native = false

var logOut io.WriteCloser

var textFormatterInstance = &logrus.TextFormatter{FullTimestamp: true}

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if flag {
		return makeLogger(logrus.DebugLevel, fields)
	}
	return makeLogger(logrus.ErrorLevel, fields)
}

// Solib returns true if the shared library engine should log.
func Solib() bool {
	return solib
}

// SolibLogger returns a logger for the shared library engine.
func SolibLogger() Logger {
	return makeFlaggableLogger(solib, Fields{"layer": "solib"})
}

// Probes returns true if the dynamic linker probes interface should log
// every probe hit and the action taken.
func Probes() bool {
	return probes
}

// ProbesLogger returns a logger for the probes interface.
func ProbesLogger() Logger {
	return makeFlaggableLogger(probes, Fields{"layer": "solib", "kind": "probes"})
}

// Objfile returns true if object file loading should be logged.
func Objfile() bool {
	return objfile
}

// ObjfileLogger returns a logger for the object file layer.
func ObjfileLogger() Logger {
	return makeFlaggableLogger(objfile, Fields{"layer": "objfile"})
}

// Native returns true if the live process adapter should log.
func Native() bool {
	return native
}

// NativeLogger returns a logger for the live process adapter.
func NativeLogger() Logger {
	return makeFlaggableLogger(native, Fields{"layer": "native"})
}

// WarningLogger returns the logger used for warnings meant for the user.
// Unlike the other loggers it is never silenced by the flags.
func WarningLogger() Logger {
	return makeLogger(logrus.WarnLevel, Fields{"layer": "solib"})
}

var errLogstrWithoutLog = errors.New("log components specified but logging is not enabled")

// Setup sets debugger flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "solib-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return err
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "solib"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "solib":
			solib = true
		case "probes":
			probes = true
		case "objfile":
			objfile = true
		case "native":
			native = true
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}
