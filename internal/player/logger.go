package player

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// InitLogger는 설정된 레벨로 tint 핸들러를 기본 slog 로거로 등록합니다.
func InitLogger(config *Config) {
	slog.SetDefault(slog.New(newLogHandler(os.Stdout, config.GetSlogLevel())))
}

func newLogHandler(w io.Writer, level slog.Level) slog.Handler {
	root := projectRoot()

	// source 경로를 프로젝트 루트 기준 상대 경로로 줄임
	replaceAttr := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key != slog.SourceKey {
			return a
		}
		source, ok := a.Value.Any().(*slog.Source)
		if !ok {
			return a
		}
		source.File = trimSourcePath(root, source.File)
		return slog.Any(a.Key, source)
	}

	return tint.NewHandler(w, &tint.Options{
		Level:       level,
		AddSource:   true,
		NoColor:     !isTerminal(w),
		TimeFormat:  time.RFC3339,
		ReplaceAttr: replaceAttr,
	})
}

// projectRoot는 이 파일(internal/player/logger.go)에서 두 단계 위 디렉토리
func projectRoot() string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	return filepath.Dir(filepath.Dir(filepath.Dir(filename)))
}

func trimSourcePath(root, file string) string {
	if root == "" || !strings.HasPrefix(file, root+string(os.PathSeparator)) {
		// 표준 라이브러리 등 루트 밖의 파일은 그대로 둠
		return file
	}
	return file[len(root)+1:]
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
