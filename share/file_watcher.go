package chshare

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher reports changes to files in one directory. The directory, not the
// files, is watched, so editors that replace a file by rename are still seen.
type FileWatcher struct {
	ShutdownHelper
	dir      string
	watcher  *fsnotify.Watcher
	onChange func(name string)
}

// NewFileWatcher starts watching dir. onChange is called, from the watcher's
// goroutine, with the base name of every file that is written, created, removed or
// renamed.
func NewFileWatcher(logger Logger, dir string, onChange func(name string)) (*FileWatcher, error) {
	w := &FileWatcher{
		dir:      dir,
		onChange: onChange,
	}
	w.InitShutdownHelper(logger.Fork("watch %s", dir), w)
	err := w.DoOnceActivate(
		func() error {
			fw, err := fsnotify.NewWatcher()
			if err != nil {
				return w.Errorf("Unable to create watcher: %s", err)
			}
			if err := fw.Add(dir); err != nil {
				fw.Close()
				return w.Errorf("Unable to watch: %s", err)
			}
			w.watcher = fw
			go w.loop()
			return nil
		},
		true,
	)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (w *FileWatcher) loop() {
	for {
		select {
		case e, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if e.Op.Has(fsnotify.Chmod) && !e.Op.Has(fsnotify.Write) {
				continue
			}
			w.TLogf("%s", e)
			w.onChange(filepath.Base(e.Name))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.WLogf("Watch error: %s", err)
		}
	}
}

// HandleOnceShutdown closes the fsnotify watcher, which ends the event loop
func (w *FileWatcher) HandleOnceShutdown(completionErr error) error {
	if w.watcher == nil {
		return completionErr
	}
	err := w.watcher.Close()
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}
