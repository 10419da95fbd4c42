package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/gaetschwartz/purr/pkg/provider/stt"
)

// FileCheck reports whether path names a readable regular file, such as the
// configured model.
func FileCheck(name, path string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			fi, err := os.Stat(path)
			if err != nil {
				return err
			}
			if !fi.Mode().IsRegular() {
				return fmt.Errorf("%s is not a regular file", path)
			}
			return nil
		},
	}
}

// BinaryCheck reports whether the executable file can be found on PATH.
// Containers other than WAV and Ogg/Opus need ffmpeg and ffprobe.
func BinaryCheck(name, file string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			_, err := exec.LookPath(file)
			return err
		},
	}
}

// EngineCheck opens and closes a session on engine.
func EngineCheck(name string, engine stt.Engine) Checker {
	return CurrentEngineCheck(name, func() stt.Engine { return engine })
}

// CurrentEngineCheck is [EngineCheck] for an engine that can be replaced
// while serving. current is called on every check.
func CurrentEngineCheck(name string, current func() stt.Engine) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			sess, err := current().NewSession(ctx)
			if err != nil {
				return err
			}
			return sess.Close()
		},
	}
}
