package persistence

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"sleepywoodpecker/arff-collector/internal/dataset"
)

// ExportSubpath is where exported datasets land below the external root.
var ExportSubpath = filepath.Join("android", "data", "arffExport", "files")

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func (w *Worker) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(w.dir, name), nil
}

// Create writes header as the whole content of the named dataset, replacing any existing file,
// and makes the new dataset current.
func (w *Worker) Create(name, header string, sensors dataset.SensorSet) (dataset.Dataset, error) {
	if err := w.begin(); err != nil {
		return dataset.Dataset{}, err
	}
	defer w.end()

	path, err := w.path(name)
	if err != nil {
		return dataset.Dataset{}, err
	}

	unlock := w.lockFile(name)
	defer unlock()

	if err := writeFileAtomic(path, header); err != nil {
		w.logger.Warn("[worker] error creating dataset", zap.Error(err), zap.String("dataset", name))
		return dataset.Dataset{}, &IOError{Op: "create", Name: name, Err: err}
	}

	d := dataset.New(name, header, sensors)
	w.registry.SetCurrent(d)
	w.logger.Info("[worker] dataset created", zap.String("dataset", name))
	return d, nil
}

// Load reads the named dataset. Line endings are normalized to "\n" and the content carries
// no trailing newline.
func (w *Worker) Load(name string) (dataset.Dataset, error) {
	if err := w.begin(); err != nil {
		return dataset.Dataset{}, err
	}
	defer w.end()

	path, err := w.path(name)
	if err != nil {
		return dataset.Dataset{}, err
	}

	unlock := w.lockFile(name)
	defer unlock()

	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return dataset.Dataset{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return dataset.Dataset{}, &IOError{Op: "load", Name: name, Err: err}
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return dataset.Dataset{}, &IOError{Op: "load", Name: name, Err: err}
	}

	content := strings.TrimSuffix(lineEndings.Replace(string(raw)), "\n")
	return dataset.New(name, content, dataset.SensorsFromHeader(content)), nil
}

// Append adds line as a new row of the named dataset. The row is written with a single
// write; if that fails the file is cut back to its previous length.
func (w *Worker) Append(name, line string) error {
	if err := w.begin(); err != nil {
		return err
	}
	defer w.end()

	path, err := w.path(name)
	if err != nil {
		return err
	}

	unlock := w.lockFile(name)
	defer unlock()

	file, err := w.openAppend(path)
	if err != nil {
		return &IOError{Op: "append", Name: name, Err: err}
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return &IOError{Op: "append", Name: name, Err: err}
	}

	if _, err := file.WriteString("\n" + line); err != nil {
		if terr := file.Truncate(info.Size()); terr != nil {
			w.logger.Error("[worker] could not roll back partial row", zap.Error(terr), zap.String("dataset", name))
		}
		file.Close()
		return &IOError{Op: "append", Name: name, Err: err}
	}

	if err := file.Close(); err != nil {
		return &IOError{Op: "append", Name: name, Err: err}
	}
	return nil
}

// ExportTo writes the dataset's content to <externalRoot>/android/data/arffExport/files/<name>
// and returns the destination path. Nothing is written unless the root is mounted read-write.
func (w *Worker) ExportTo(d dataset.Dataset, externalRoot string) (string, error) {
	if err := w.begin(); err != nil {
		return "", err
	}
	defer w.end()

	if _, err := w.path(d.Name); err != nil {
		return "", err
	}

	if state := w.storage.State(externalRoot); state != StorageMounted {
		w.logger.Warn("[worker] export refused", zap.String("root", externalRoot), zap.Stringer("storage", state))
		return "", fmt.Errorf("%w: %s is %s", ErrStorageUnavailable, externalRoot, state)
	}

	dir := filepath.Join(externalRoot, ExportSubpath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &IOError{Op: "export", Name: d.Name, Err: err}
	}

	dest := filepath.Join(dir, d.Name)
	if err := writeFileAtomic(dest, d.Content); err != nil {
		return "", &IOError{Op: "export", Name: d.Name, Err: err}
	}

	w.logger.Info("[worker] dataset exported", zap.String("dataset", d.Name), zap.String("destination", dest))
	return dest, nil
}

// Size returns the file size in whole kilobytes, or 0 when the file does not exist.
func (w *Worker) Size(name string) (int64, error) {
	if err := w.begin(); err != nil {
		return 0, err
	}
	defer w.end()

	path, err := w.path(name)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, &IOError{Op: "size", Name: name, Err: err}
	}
	return info.Size() / 1024, nil
}

// Delete removes the named dataset file and reports whether it was removed.
func (w *Worker) Delete(name string) (bool, error) {
	if err := w.begin(); err != nil {
		return false, err
	}
	defer w.end()

	path, err := w.path(name)
	if err != nil {
		return false, err
	}

	unlock := w.lockFile(name)
	defer unlock()

	if err := os.Remove(path); err != nil {
		w.logger.Warn("[worker] could not delete dataset", zap.Error(err), zap.String("dataset", name))
		return false, nil
	}
	w.logger.Info("[worker] dataset deleted", zap.String("dataset", name))
	return true, nil
}

// writeFileAtomic replaces path with content through a temporary file in the same directory,
// so readers never observe a half-written file.
func writeFileAtomic(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
