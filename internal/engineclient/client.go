// Package engineclient implements C1, a typed JSON-RPC 2.0 facade over an
// aria2-compatible download engine.
package engineclient

import (
	"context"
	"encoding/json"
	"fmt"
)

var statusKeys = []string{
	"gid", "status", "totalLength", "completedLength", "downloadSpeed",
	"uploadSpeed", "connections", "errorCode", "errorMessage", "files", "dir", "bittorrent",
}

type rpcFile struct {
	Path string `json:"path"`
}

type rpcStatus struct {
	GID             string    `json:"gid"`
	Status          string    `json:"status"`
	TotalLength     string    `json:"totalLength"`
	CompletedLength string    `json:"completedLength"`
	DownloadSpeed   string    `json:"downloadSpeed"`
	UploadSpeed     string    `json:"uploadSpeed"`
	Connections     string    `json:"connections"`
	ErrorCode       string    `json:"errorCode"`
	ErrorMessage    string    `json:"errorMessage"`
	Dir             string    `json:"dir"`
	Files           []rpcFile `json:"files"`
	Bittorrent      *struct {
		Info *struct {
			Name string `json:"name"`
		} `json:"info"`
	} `json:"bittorrent"`
}

// Add submits one or more URIs (mirrors, or a single magnet link) and
// returns the gid the engine assigned.
func (c *Client) Add(ctx context.Context, uris []string, options map[string]string) (string, error) {
	params := []any{uris}
	if len(options) > 0 {
		params = append(params, options)
	}
	result, err := c.call(ctx, "aria2.addUri", params...)
	if err != nil {
		return "", err
	}
	var gid string
	if err := json.Unmarshal(result, &gid); err != nil {
		return "", &RequestError{Op: "aria2.addUri", Err: fmt.Errorf("decode gid: %w", err)}
	}
	return gid, nil
}

// Get fetches the authoritative Snapshot for gid, or a TaskNotFoundError
// if the engine no longer recognizes it.
func (c *Client) Get(ctx context.Context, gid string) (Snapshot, error) {
	result, err := c.call(ctx, "aria2.tellStatus", gid, statusKeys)
	if err != nil {
		return Snapshot{}, err
	}
	return parseStatus(result)
}

func parseStatus(raw json.RawMessage) (Snapshot, error) {
	var rs rpcStatus
	if err := json.Unmarshal(raw, &rs); err != nil {
		return Snapshot{}, &RequestError{Op: "aria2.tellStatus", Err: fmt.Errorf("decode status: %w", err)}
	}
	snap := Snapshot{
		GID:             rs.GID,
		Status:          Status(rs.Status),
		Name:            fileName(rs),
		TotalLength:     parseInt64(rs.TotalLength),
		CompletedLength: parseInt64(rs.CompletedLength),
		DownloadSpeed:   parseInt64(rs.DownloadSpeed),
		UploadSpeed:     parseInt64(rs.UploadSpeed),
		Connections:     int(parseInt64(rs.Connections)),
		ErrorCode:       rs.ErrorCode,
		ErrorMessage:    rs.ErrorMessage,
		Dir:             rs.Dir,
	}
	for _, f := range rs.Files {
		snap.Files = append(snap.Files, File{Path: f.Path, Name: baseName(f.Path)})
	}
	deriveSnapshot(&snap)
	return snap, nil
}

func fileName(rs rpcStatus) string {
	if rs.Bittorrent != nil && rs.Bittorrent.Info != nil && rs.Bittorrent.Info.Name != "" {
		return rs.Bittorrent.Info.Name
	}
	if len(rs.Files) > 0 {
		return baseName(rs.Files[0].Path)
	}
	return ""
}

// ListActive returns every task currently downloading.
func (c *Client) ListActive(ctx context.Context) ([]Snapshot, error) {
	result, err := c.call(ctx, "aria2.tellActive", statusKeys)
	if err != nil {
		return nil, err
	}
	return parseStatusList(result)
}

// ListWaiting returns up to limit queued tasks starting at offset.
func (c *Client) ListWaiting(ctx context.Context, offset, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 1000
	}
	result, err := c.call(ctx, "aria2.tellWaiting", offset, limit, statusKeys)
	if err != nil {
		return nil, err
	}
	return parseStatusList(result)
}

// ListStopped returns up to limit finished/errored/removed tasks, newest first.
func (c *Client) ListStopped(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 1000
	}
	result, err := c.call(ctx, "aria2.tellStopped", 0, limit, statusKeys)
	if err != nil {
		return nil, err
	}
	return parseStatusList(result)
}

func parseStatusList(raw json.RawMessage) ([]Snapshot, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, &RequestError{Err: fmt.Errorf("decode status list: %w", err)}
	}
	out := make([]Snapshot, 0, len(list))
	for _, item := range list {
		snap, err := parseStatus(item)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// Pause pauses an active or waiting task.
func (c *Client) Pause(ctx context.Context, gid string) error {
	_, err := c.call(ctx, "aria2.pause", gid)
	return err
}

// Resume unpauses a paused task.
func (c *Client) Resume(ctx context.Context, gid string) error {
	_, err := c.call(ctx, "aria2.unpause", gid)
	return err
}

// Remove force-removes a task from the engine. A secondary failure purging
// the results bucket is logged here and never raised — per the spec,
// removeDownloadResult's own error never masks a successful remove.
func (c *Client) Remove(ctx context.Context, gid string) error {
	if _, err := c.call(ctx, "aria2.forceRemove", gid); err != nil {
		return err
	}
	if _, err := c.call(ctx, "aria2.removeDownloadResult", gid); err != nil {
		c.logger.Warn("failed to purge download result after remove", "gid", gid, "error", err)
	}
	return nil
}

// PauseAll pauses every active and waiting task.
func (c *Client) PauseAll(ctx context.Context) error {
	_, err := c.call(ctx, "aria2.pauseAll")
	return err
}

// ResumeAll unpauses every paused task.
func (c *Client) ResumeAll(ctx context.Context) error {
	_, err := c.call(ctx, "aria2.unpauseAll")
	return err
}

// GlobalStats reports aggregate throughput and queue depth.
func (c *Client) GlobalStats(ctx context.Context) (GlobalStats, error) {
	result, err := c.call(ctx, "aria2.getGlobalStat")
	if err != nil {
		return GlobalStats{}, err
	}
	var raw struct {
		DownloadSpeed string `json:"downloadSpeed"`
		UploadSpeed   string `json:"uploadSpeed"`
		NumActive     string `json:"numActive"`
		NumWaiting    string `json:"numWaiting"`
		NumStopped    string `json:"numStopped"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return GlobalStats{}, &RequestError{Op: "aria2.getGlobalStat", Err: fmt.Errorf("decode stats: %w", err)}
	}
	version, err := c.Version(ctx)
	if err != nil {
		version = ""
	}
	return GlobalStats{
		DownloadSpeed: parseInt64(raw.DownloadSpeed),
		UploadSpeed:   parseInt64(raw.UploadSpeed),
		NumActive:     int(parseInt64(raw.NumActive)),
		NumWaiting:    int(parseInt64(raw.NumWaiting)),
		NumStopped:    int(parseInt64(raw.NumStopped)),
		Version:       version,
	}, nil
}

// Version returns the engine's version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	result, err := c.call(ctx, "aria2.getVersion")
	if err != nil {
		return "", err
	}
	var raw struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return "", &RequestError{Op: "aria2.getVersion", Err: fmt.Errorf("decode version: %w", err)}
	}
	return raw.Version, nil
}
