package glpi

import (
	"context"
	"net/http"

	"github.com/breeze-rmm/glpi-register/internal/logging"
	"go.uber.org/zap"
)

// deviceLink maps a device itemtype to the foreign key of its Item_* relation.
type deviceLink struct {
	itemtype string
	key      string
}

var (
	linkProcessor   = deviceLink{"DeviceProcessor", "deviceprocessors_id"}
	linkGraphicCard = deviceLink{"DeviceGraphicCard", "devicegraphiccards_id"}
	linkMemory      = deviceLink{"DeviceMemory", "devicememories_id"}
	linkHardDrive   = deviceLink{"DeviceHardDrive", "deviceharddrives_id"}
)

// link attaches the asset's hardware description to the new Computer as
// GLPI components and returns the names no device matched. Every failure
// is logged and skipped; the computer already exists and stays created.
func (c *AssetClient) link(ctx context.Context, s *Session, asset ComputerAsset) []UnresolvedName {
	type pending struct {
		link deviceLink
		name string
	}
	var work []pending
	if asset.Processor != "" {
		work = append(work, pending{linkProcessor, asset.Processor})
	}
	for _, gpu := range asset.GraphicCards {
		work = append(work, pending{linkGraphicCard, gpu})
	}
	if asset.Memory != "" {
		work = append(work, pending{linkMemory, asset.Memory})
	}
	for _, drive := range asset.HardDrives {
		work = append(work, pending{linkHardDrive, drive})
	}

	var (
		linked  int
		unknown []UnresolvedName
	)
	for _, w := range work {
		if ctx.Err() != nil {
			return unknown
		}
		ok, err := c.linkDevice(ctx, s, asset.ID, w.link, w.name)
		if ok {
			linked++
		} else if isNotFound(err) {
			unknown = append(unknown, UnresolvedName{ItemType: w.link.itemtype, Name: w.name})
		}
	}
	if asset.OperatingSystem != "" && ctx.Err() == nil {
		ok, err := c.linkOperatingSystem(ctx, s, asset)
		if ok {
			linked++
		} else if isNotFound(err) {
			unknown = append(unknown, UnresolvedName{ItemType: "OperatingSystem", Name: asset.OperatingSystem})
		}
	}

	log.Debug("component linking done",
		zap.Int("id", asset.ID),
		zap.Int("linked", linked),
		zap.Int("attempted", len(work)),
		zap.Int("unresolved", len(unknown)))
	return unknown
}

// linkDevice reports whether the relation was created. The error is the
// failed lookup, if that is why it was not.
func (c *AssetClient) linkDevice(ctx context.Context, s *Session, computerID int, dl deviceLink, name string) (bool, error) {
	l := log.With(zap.String(logging.KeyItemType, dl.itemtype), zap.String("name", name))

	deviceID, err := c.lookupID(ctx, s, dl.itemtype, name)
	if err != nil {
		if isNotFound(err) {
			l.Info("no matching device in GLPI, not linked")
		} else {
			l.Warn("device lookup failed", zap.Error(err))
		}
		return false, err
	}

	input := map[string]any{
		"items_id": computerID,
		"itemtype": "Computer",
		dl.key:     deviceID,
	}
	return c.postRelation(ctx, s, "Item_"+dl.itemtype, input, l), nil
}

func (c *AssetClient) linkOperatingSystem(ctx context.Context, s *Session, asset ComputerAsset) (bool, error) {
	l := log.With(zap.String(logging.KeyItemType, "OperatingSystem"), zap.String("name", asset.OperatingSystem))

	osID, err := c.lookupID(ctx, s, "OperatingSystem", asset.OperatingSystem)
	if err != nil {
		l.Info("operating system not resolved, not linked", zap.Error(err))
		return false, err
	}

	input := map[string]any{
		"items_id":            asset.ID,
		"itemtype":            "Computer",
		"operatingsystems_id": osID,
	}
	if asset.OSVersion != "" {
		if versionID, err := c.lookupID(ctx, s, "OperatingSystemVersion", asset.OSVersion); err == nil {
			input["operatingsystemversions_id"] = versionID
		}
	}
	return c.postRelation(ctx, s, "Item_OperatingSystem", input, l), nil
}

func (c *AssetClient) postRelation(ctx context.Context, s *Session, path string, input map[string]any, l *zap.Logger) bool {
	resp, f, err := c.send(ctx, s, call{
		method: http.MethodPost,
		path:   path,
		body:   map[string]any{"input": input},
	})
	if err != nil {
		l.Warn("component link failed", zap.Error(err))
		return false
	}
	if !resp.ok() {
		l.Warn("component link rejected", zap.Int(logging.KeyStatus, resp.status), zap.String("code", f.Code))
		return false
	}
	return true
}
