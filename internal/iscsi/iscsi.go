// Package iscsi administers iSCSI LUNs and targets through the
// SYNO.Core.ISCSI families. Identifiers in these families are sent as quoted
// string literals.
package iscsi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/acolita/synology-mcp/internal/synoapi"
)

var (
	lunFamily    = synoapi.Family{API: "SYNO.Core.ISCSI.LUN", Version: 1, Encoding: synoapi.EncodeQuoted}
	targetFamily = synoapi.Family{API: "SYNO.Core.ISCSI.Target", Version: 1, Encoding: synoapi.EncodeQuoted}
)

const gib = 1 << 30

// LUN is a logical unit.
type LUN struct {
	UUID             string  `json:"uuid"`
	Name             string  `json:"name"`
	Size             int64   `json:"size"`
	SizeGB           float64 `json:"size_gb"`
	Status           any     `json:"status"`
	UsedSize         int64   `json:"used_size"`
	UsedSizeGB       float64 `json:"used_size_gb"`
	Location         string  `json:"location"`
	IsMapped         bool    `json:"is_mapped"`
	IsOnline         bool    `json:"is_online"`
	Type             any     `json:"type"`
	ThinProvisioning bool    `json:"thin_provisioning"`
}

// LUNDetail is a LUN with its mappings and action flags.
type LUNDetail struct {
	LUN
	Targets        []any `json:"targets"`
	CanDoSnapshot  bool  `json:"can_do_snapshot"`
	IsActionLocked bool  `json:"is_action_locked"`
}

// Target is an iSCSI target.
type Target struct {
	TargetID          any    `json:"target_id"`
	Name              string `json:"name"`
	IQN               string `json:"iqn"`
	Status            any    `json:"status"`
	MappedLUNs        []any  `json:"mapped_luns"`
	ConnectedSessions int    `json:"connected_sessions"`
}

// DeleteResult describes a deleted LUN.
type DeleteResult struct {
	UUID    string `json:"uuid"`
	Message string `json:"message"`
}

// UnmapResult describes a removed LUN to target mapping.
type UnmapResult struct {
	LUNUUID  string `json:"lun_uuid"`
	TargetID string `json:"target_id"`
	Message  string `json:"message"`
}

type wireLUN struct {
	UUID             string `json:"uuid"`
	Name             string `json:"name"`
	Size             int64  `json:"size"`
	Status           any    `json:"status"`
	UsedSize         int64  `json:"used_size"`
	Location         string `json:"location"`
	IsMapped         bool   `json:"is_mapped"`
	IsOnline         bool   `json:"is_online"`
	Type             any    `json:"type"`
	ThinProvisioning bool   `json:"thin_provisioning"`
	Targets          []any  `json:"targets"`
	CanDoSnapshot    bool   `json:"can_do_snapshot"`
	IsActionLocked   bool   `json:"is_action_locked"`
}

func (w wireLUN) lun() LUN {
	return LUN{
		UUID:             w.UUID,
		Name:             w.Name,
		Size:             w.Size,
		SizeGB:           toGB(w.Size),
		Status:           w.Status,
		UsedSize:         w.UsedSize,
		UsedSizeGB:       toGB(w.UsedSize),
		Location:         w.Location,
		IsMapped:         w.IsMapped,
		IsOnline:         w.IsOnline,
		Type:             w.Type,
		ThinProvisioning: w.ThinProvisioning,
	}
}

// toGB converts bytes to GiB rounded to two decimals.
func toGB(bytes int64) float64 {
	return math.Round(float64(bytes)/gib*100) / 100
}

// Module is the block-storage capability bound to one session.
type Module struct {
	caller synoapi.Caller
	logger *slog.Logger
}

// Option configures a Module.
type Option func(*Module)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Module) {
		m.logger = logger
	}
}

// New creates an iSCSI module issuing calls through caller.
func New(caller synoapi.Caller, opts ...Option) *Module {
	m := &Module{caller: caller, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func requireID(op, name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", synoapi.Validationf(op, "%s cannot be empty", name)
	}
	return value, nil
}

// ListLUNs lists every LUN.
func (m *Module) ListLUNs(ctx context.Context) ([]LUN, error) {
	var out struct {
		LUNs []wireLUN `json:"luns"`
	}
	if err := synoapi.CallInto(ctx, m.caller, lunFamily.Op("list", synoapi.VerbQuery, nil), &out); err != nil {
		return nil, err
	}
	luns := make([]LUN, 0, len(out.LUNs))
	for _, l := range out.LUNs {
		luns = append(luns, l.lun())
	}
	return luns, nil
}

// GetLUN returns one LUN with its mappings.
func (m *Module) GetLUN(ctx context.Context, uuid string) (LUNDetail, error) {
	uuid, err := requireID("iscsi.get_lun", "uuid", uuid)
	if err != nil {
		return LUNDetail{}, err
	}

	var out struct {
		LUN *wireLUN `json:"lun"`
	}
	d := lunFamily.Op("get", synoapi.VerbQuery, synoapi.Params{"uuid": lunFamily.Encode(uuid)})
	if err := synoapi.CallInto(ctx, m.caller, d, &out); err != nil {
		return LUNDetail{}, err
	}
	if out.LUN == nil || out.LUN.UUID == "" {
		return LUNDetail{}, synoapi.NotFoundf("iscsi.get_lun", "LUN %s not found", uuid)
	}

	targets := out.LUN.Targets
	if targets == nil {
		targets = []any{}
	}
	return LUNDetail{
		LUN:            out.LUN.lun(),
		Targets:        targets,
		CanDoSnapshot:  out.LUN.CanDoSnapshot,
		IsActionLocked: out.LUN.IsActionLocked,
	}, nil
}

// DeleteLUN permanently deletes a LUN and its data. A LUN still mapped to a
// target is refused before the delete call is issued.
func (m *Module) DeleteLUN(ctx context.Context, uuid string) (DeleteResult, error) {
	uuid, err := requireID("iscsi.delete_lun", "uuid", uuid)
	if err != nil {
		return DeleteResult{}, err
	}

	lun, err := m.GetLUN(ctx, uuid)
	if err != nil {
		var apiErr *synoapi.Error
		if errors.As(err, &apiErr) && apiErr.Kind == synoapi.KindBackend {
			return DeleteResult{}, &synoapi.Error{
				Kind:   synoapi.KindNotFound,
				Code:   apiErr.Code,
				Op:     "iscsi.delete_lun",
				Detail: fmt.Sprintf("LUN %s not found or inaccessible", uuid),
				Err:    err,
			}
		}
		return DeleteResult{}, err
	}
	if lun.IsMapped {
		return DeleteResult{}, synoapi.Validationf("iscsi.delete_lun",
			"LUN %s is still mapped to targets; unmap it first before deletion", uuid)
	}

	if _, err := m.caller.Call(ctx, lunFamily.Op("delete", synoapi.VerbQuery, synoapi.Params{"uuid": lunFamily.Encode(uuid)})); err != nil {
		return DeleteResult{}, fmt.Errorf("delete LUN %s: %w", uuid, err)
	}
	m.logger.Info("LUN deleted", slog.String("uuid", uuid), slog.String("name", lun.Name))
	return DeleteResult{UUID: uuid, Message: fmt.Sprintf("LUN %s deleted successfully", uuid)}, nil
}

// ListTargets lists every target.
func (m *Module) ListTargets(ctx context.Context) ([]Target, error) {
	var out struct {
		Targets []Target `json:"targets"`
	}
	if err := synoapi.CallInto(ctx, m.caller, targetFamily.Op("list", synoapi.VerbQuery, nil), &out); err != nil {
		return nil, err
	}
	for i := range out.Targets {
		if out.Targets[i].MappedLUNs == nil {
			out.Targets[i].MappedLUNs = []any{}
		}
	}
	if out.Targets == nil {
		out.Targets = []Target{}
	}
	return out.Targets, nil
}

// UnmapLUN removes the mapping between a LUN and a target.
func (m *Module) UnmapLUN(ctx context.Context, uuid, targetID string) (UnmapResult, error) {
	uuid, err := requireID("iscsi.unmap_lun", "uuid", uuid)
	if err != nil {
		return UnmapResult{}, err
	}
	targetID, err = requireID("iscsi.unmap_lun", "target_id", targetID)
	if err != nil {
		return UnmapResult{}, err
	}

	d := lunFamily.Op("unmap_target", synoapi.VerbQuery, synoapi.Params{
		"uuid":      lunFamily.Encode(uuid),
		"target_id": lunFamily.Encode(targetID),
	})
	if _, err := m.caller.Call(ctx, d); err != nil {
		return UnmapResult{}, fmt.Errorf("unmap LUN %s from target %s: %w", uuid, targetID, err)
	}
	return UnmapResult{
		LUNUUID:  uuid,
		TargetID: targetID,
		Message:  fmt.Sprintf("LUN %s unmapped from target %s", uuid, targetID),
	}, nil
}
