package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE = "bridge"
	BATTERY_SENSOR_SUFFIX  = "battery"
)

type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	ModelId      string
	Manufacturer string
	ViaDevice    string
}

type GenericSensor struct {
	Device            Device
	Id                string
	SensorType        string
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string // measurement, total_increasing
	DeviceClass       string // power, energy, temperature, humidity, voltage, battery, signal_strength
	EntityCategory    string // diagnostic or empty
	EnabledByDefault  *bool
	Icon              string
}

var unsafeTopicChars = regexp.MustCompile("[^a-zA-Z0-9_-]")

// SensorObjectId builds the MQTT safe object id of a device channel.
func SensorObjectId(deviceId string, parts ...string) string {
	id := deviceId
	for _, p := range parts {
		id += "_" + p
	}
	return unsafeTopicChars.ReplaceAllString(id, "_")
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("energylive_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "berfenger",
		Model:        "energyLIVE bridge",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("energyLIVE %s", md5HashShort(baseTopic)),
	}
}

func EnergyLiveDevice(id, deviceType, serial string) Device {
	return Device{
		Id:           SensorObjectId("energylive", id),
		Name:         id,
		Manufacturer: MANUFACTURER,
		Model:        DeviceModel(deviceType),
		ModelId:      serial,
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	}}
}

// ChannelSensors describes one sensor per channel of a device plus the
// derived battery sensor when the device reports a battery voltage. Only the
// first sensor carries the full device description.
func ChannelSensors(device Device, deviceId string, channels []string) []GenericSensor {
	sorted := append([]string(nil), channels...)
	sort.Strings(sorted)

	var sensors []GenericSensor
	for _, ch := range sorted {
		meta, _ := ChannelMetadata(ch)
		sensors = append(sensors, GenericSensor{
			Id:                SensorObjectId(deviceId, ch),
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              meta.Name,
			UniqueId:          fmt.Sprintf("%s_%s", deviceId, ch),
			UnitOfMeasurement: meta.UnitOfMeasurement,
			StateClass:        meta.StateClass,
			DeviceClass:       meta.DeviceClass,
			EntityCategory:    meta.EntityCategory,
			EnabledByDefault:  optionalBool(meta.EnabledByDefault),
			Icon:              meta.Icon,
		})
		if ch == CHANNEL_BATTERY_VOLTAGE {
			sensors = append(sensors, GenericSensor{
				Id:                SensorObjectId(deviceId, ch, BATTERY_SENSOR_SUFFIX),
				SensorType:        SENSOR_TYPE_SENSOR,
				Name:              "Battery",
				UniqueId:          fmt.Sprintf("%s_%s_%s", deviceId, ch, BATTERY_SENSOR_SUFFIX),
				UnitOfMeasurement: "%",
				DeviceClass:       DEVICE_CLASS_BATTERY,
				EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
			})
		}
	}
	for i := range sensors {
		if i == 0 {
			sensors[i].Device = device
		} else {
			sensors[i].Device = IdDevice(device)
		}
	}
	return sensors
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5HashShort(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
