package coordhttp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ryandielhenn/zephyrcoord/pkg/membership"
)

var validate = validator.New()

// enlistRequest is the wire shape of a POST /servers body.
type enlistRequest struct {
	Locator                  string   `json:"locator" validate:"required"`
	Services                 []string `json:"services" validate:"required,min=1,dive,oneof=MASTER BACKUP MEMBERSHIP"`
	ExpectedReadMBytesPerSec uint32   `json:"read_mbytes_per_sec"`
	ReplacesID               string   `json:"replaces_id,omitempty"`
}

func (r enlistRequest) serviceMask() membership.ServiceMask {
	var mask membership.ServiceMask
	for _, s := range r.Services {
		switch strings.ToUpper(s) {
		case "MASTER":
			mask = mask.Add(membership.MasterService)
		case "BACKUP":
			mask = mask.Add(membership.BackupService)
		case "MEMBERSHIP":
			mask = mask.Add(membership.MembershipService)
		}
	}
	return mask
}

func (r enlistRequest) replaces() (membership.ServerId, error) {
	if r.ReplacesID == "" {
		return membership.Invalid, nil
	}
	return parseServerId(r.ReplacesID)
}

// recoveryInfoRequest is the wire shape of a PUT
// /servers/{id}/recovery-info body.
type recoveryInfoRequest struct {
	Info []byte `json:"info" validate:"required"`
}

// enlistResponse is returned on a successful enlistment.
type enlistResponse struct {
	ServerID string `json:"server_id"`
}

// serverView is one server entry as rendered to a list-servers caller.
type serverView struct {
	ServerID                 string `json:"server_id"`
	Status                   string `json:"status"`
	Services                 string `json:"services"`
	Locator                  string `json:"locator"`
	ExpectedReadMBytesPerSec uint32 `json:"read_mbytes_per_sec,omitempty"`
	ReplicationID            uint64 `json:"replication_id,omitempty"`
}

func toServerView(e membership.Entry) serverView {
	return serverView{
		ServerID:                 e.ServerId.String(),
		Status:                   e.Status.String(),
		Services:                 e.Services.String(),
		Locator:                  e.Locator,
		ExpectedReadMBytesPerSec: e.ExpectedReadMBytesPerSec,
		ReplicationID:            e.ReplicationId,
	}
}

// parseServerId parses the "index.generation" form ServerId.String()
// produces.
func parseServerId(s string) (membership.ServerId, error) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return membership.Invalid, fmt.Errorf("coordhttp: malformed server id %q", s)
	}
	index, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return membership.Invalid, fmt.Errorf("coordhttp: malformed server id %q: %w", s, err)
	}
	generation, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return membership.Invalid, fmt.Errorf("coordhttp: malformed server id %q: %w", s, err)
	}
	return membership.ServerId{Index: uint32(index), Generation: uint32(generation)}, nil
}

func parseServiceFilter(raw string) membership.ServiceMask {
	if raw == "" {
		return 0
	}
	var mask membership.ServiceMask
	for _, s := range strings.Split(raw, ",") {
		switch strings.ToUpper(strings.TrimSpace(s)) {
		case "MASTER":
			mask = mask.Add(membership.MasterService)
		case "BACKUP":
			mask = mask.Add(membership.BackupService)
		case "MEMBERSHIP":
			mask = mask.Add(membership.MembershipService)
		}
	}
	return mask
}
