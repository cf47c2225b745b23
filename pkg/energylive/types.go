package energylive

import (
	"encoding/json"
	"errors"
)

const (
	DeviceTypeGateway   = "gateway"
	DeviceTypeInterface = "interface"
)

// DeviceDescriptor is one entry of the device list. The API returns bare
// ids; the object form {"id": "..."} is accepted as well.
type DeviceDescriptor struct {
	ID string `json:"id"`
}

func (d *DeviceDescriptor) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		d.ID = id
		return nil
	}

	type plain DeviceDescriptor
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.ID == "" {
		return errors.New("energylive: device descriptor without id")
	}
	*d = DeviceDescriptor(p)
	return nil
}

type DeviceDetails struct {
	Type   string `json:"type"`
	Serial string `json:"serial"`
}
