package provider

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/open-feature/flagwatch/pkg/eval"
)

// FilePathProvider serves flag definitions from a local JSON file and
// reloads them whenever the file is written or replaced.
type FilePathProvider struct {
	evaluatorProvider
	URI string

	watcher   *fsnotify.Watcher
	closeOnce sync.Once
}

func NewFilePathProvider(uri string, evaluator eval.IEvaluator) *FilePathProvider {
	return &FilePathProvider{
		evaluatorProvider: evaluatorProvider{evaluator: evaluator},
		URI:               uri,
	}
}

func (fp *FilePathProvider) Initialize() error {
	if fp.URI == "" {
		return errors.New("no filepath string set")
	}
	abs, err := filepath.Abs(fp.URI)
	if err != nil {
		return fmt.Errorf("unable to resolve %s: %w", fp.URI, err)
	}
	fp.URI = abs

	if err := fp.load(); err != nil {
		return err
	}

	// the directory is watched so that editors replacing the file are noticed
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("unable to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(fp.URI)); err != nil {
		watcher.Close()
		return fmt.Errorf("unable to watch %s: %w", fp.URI, err)
	}
	fp.watcher = watcher
	go fp.watch()

	return nil
}

func (fp *FilePathProvider) watch() {
	for {
		select {
		case event, ok := <-fp.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fp.URI {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := fp.load(); err != nil {
				log.WithField("uri", fp.URI).Errorf("unable to reload flags: %v", err)
				continue
			}
			log.WithField("uri", fp.URI).Info("Flag values updated.")
		case err, ok := <-fp.watcher.Errors:
			if !ok {
				return
			}
			log.WithField("uri", fp.URI).Errorf("file watcher error: %v", err)
		}
	}
}

func (fp *FilePathProvider) load() error {
	rawFile, err := os.ReadFile(fp.URI)
	if err != nil {
		return fmt.Errorf("unable to read %s: %w", fp.URI, err)
	}
	notifications, err := fp.setState(fp.URI, string(rawFile))
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"uri": fp.URI, "changes": len(notifications)}).Debug("loaded flag definitions")
	return nil
}

// Reauthenticate re-reads the flag file; a local file has no credentials.
func (fp *FilePathProvider) Reauthenticate() error {
	return fp.load()
}

func (fp *FilePathProvider) Close() error {
	var err error
	fp.closeOnce.Do(func() {
		if fp.watcher != nil {
			err = fp.watcher.Close()
		}
	})
	return err
}
