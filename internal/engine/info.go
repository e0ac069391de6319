package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/voxlane/voxlane/internal/queue"
)

// PublishInfo writes the engine's info file into the shared layout so the
// gateway can report which engines are actually up. Published at worker
// startup; the gateway never blocks on it.
func PublishInfo(layout queue.Layout, info Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("encode engine info: %w", err)
	}
	path := filepath.Join(layout.EnginesDir(), info.Name+".json")
	if err := layout.WriteAtomic(path, data); err != nil {
		return fmt.Errorf("publish engine info: %w", err)
	}
	return nil
}

// ReadPublishedInfos returns every engine info file workers have published,
// sorted by engine name. Undecodable files are skipped.
func ReadPublishedInfos(layout queue.Layout) ([]Info, error) {
	entries, err := os.ReadDir(layout.EnginesDir())
	if err != nil {
		return nil, fmt.Errorf("scan engine infos: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(layout.EnginesDir(), entry.Name()))
		if err != nil {
			continue
		}
		var info Info
		if err := json.Unmarshal(data, &info); err != nil {
			continue
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos, nil
}
