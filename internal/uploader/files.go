package uploader

import (
	"os"
	"path/filepath"
)

// markerFileName is the prepare-phase marker; it is never a task artifact.
const markerFileName = "current_task_info.json"

// CollectFiles walks workDir and returns every regular file under it that
// qualifies as an artifact — everything except the current_task_info.json
// marker — plus liveLogPath if it exists and isn't already in the set.
func CollectFiles(workDir, liveLogPath string) ([]string, error) {
	var files []string
	seen := make(map[string]struct{})

	err := filepath.Walk(workDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if info.Name() == markerFileName {
			return nil
		}
		files = append(files, path)
		seen[path] = struct{}{}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			err = nil
		} else {
			return nil, err
		}
	}

	if liveLogPath != "" {
		if _, ok := seen[liveLogPath]; !ok {
			if _, statErr := os.Stat(liveLogPath); statErr == nil {
				files = append(files, liveLogPath)
			}
		}
	}

	return files, nil
}
