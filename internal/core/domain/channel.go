package domain

const (
	CHANNEL_CURRENT_POWER_CONSUMPTION   = "0100010700"
	CHANNEL_ENERGY_CONSUMPTION          = "0100010800"
	CHANNEL_CURRENT_POWER_GENERATION    = "0100020700"
	CHANNEL_ENERGY_GENERATION           = "0100020800"
	CHANNEL_REACTIVE_ENERGY_CONSUMPTION = "0100030800"
	CHANNEL_REACTIVE_ENERGY_GENERATION  = "0100040800"
	CHANNEL_BATTERY_VOLTAGE             = "batteryVoltage"
	CHANNEL_ERROR_CODE                  = "errorCode"
	CHANNEL_FREE_HEAP                   = "freeHeap8Bit"
	CHANNEL_LARGEST_HEAP_BLOCK          = "largestHeapBlock8Bit"
	CHANNEL_LORA_RSSI                   = "loraRssi"
	CHANNEL_LORA_SNR                    = "loraSnr"
	CHANNEL_MESSAGE_COUNT               = "messageCount"
	CHANNEL_ROOM_HUMIDITY               = "roomHumidity"
	CHANNEL_ROOM_TEMPERATURE            = "roomTemperature"

	DEVICE_TYPE_GATEWAY   = "gateway"
	DEVICE_TYPE_INTERFACE = "interface"

	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_BATTERY         = "battery"
	DEVICE_CLASS_ENERGY          = "energy"
	DEVICE_CLASS_HUMIDITY        = "humidity"
	DEVICE_CLASS_POWER           = "power"
	DEVICE_CLASS_SIGNAL_STRENGTH = "signal_strength"
	DEVICE_CLASS_TEMPERATURE     = "temperature"
	DEVICE_CLASS_VOLTAGE         = "voltage"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"

	MANUFACTURER = "smartENERGY"
)

// ChannelMeta describes how a measurement channel is presented to consumers.
type ChannelMeta struct {
	Name              string
	UnitOfMeasurement string
	DeviceClass       string
	StateClass        string
	EntityCategory    string
	EnabledByDefault  bool
	Icon              string
	Decimals          int
}

var channelMeta = map[string]ChannelMeta{
	CHANNEL_CURRENT_POWER_CONSUMPTION: {
		Name:              "Current Power Consumption",
		UnitOfMeasurement: "W",
		DeviceClass:       DEVICE_CLASS_POWER,
		StateClass:        STATE_CLASS_MEASUREMENT,
		EnabledByDefault:  true,
	},
	CHANNEL_ENERGY_CONSUMPTION: {
		Name:              "Energy Consumed",
		UnitOfMeasurement: "Wh",
		DeviceClass:       DEVICE_CLASS_ENERGY,
		StateClass:        STATE_CLASS_TOTAL_INCREASING,
		EnabledByDefault:  true,
	},
	CHANNEL_CURRENT_POWER_GENERATION: {
		Name:              "Current Power Return to Grid",
		UnitOfMeasurement: "W",
		DeviceClass:       DEVICE_CLASS_POWER,
		StateClass:        STATE_CLASS_MEASUREMENT,
		EnabledByDefault:  true,
	},
	CHANNEL_ENERGY_GENERATION: {
		Name:              "Energy Returned to Grid",
		UnitOfMeasurement: "Wh",
		DeviceClass:       DEVICE_CLASS_ENERGY,
		StateClass:        STATE_CLASS_TOTAL_INCREASING,
		EnabledByDefault:  true,
	},
	CHANNEL_REACTIVE_ENERGY_CONSUMPTION: {
		Name:              "Reactive Energy Consumed",
		UnitOfMeasurement: "VArh",
		DeviceClass:       DEVICE_CLASS_ENERGY,
		StateClass:        STATE_CLASS_TOTAL_INCREASING,
		EnabledByDefault:  true,
	},
	CHANNEL_REACTIVE_ENERGY_GENERATION: {
		Name:              "Reactive Energy Returned to Grid",
		UnitOfMeasurement: "VArh",
		DeviceClass:       DEVICE_CLASS_ENERGY,
		StateClass:        STATE_CLASS_TOTAL_INCREASING,
		EnabledByDefault:  true,
	},
	CHANNEL_BATTERY_VOLTAGE: {
		Name:              "Battery Voltage",
		UnitOfMeasurement: "mV",
		DeviceClass:       DEVICE_CLASS_VOLTAGE,
		StateClass:        STATE_CLASS_MEASUREMENT,
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
	},
	CHANNEL_ERROR_CODE: {
		Name:           "Error Code",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		Icon:           "mdi:alert-circle-outline",
	},
	CHANNEL_FREE_HEAP: {
		Name:           "Free Heap",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
	},
	CHANNEL_LARGEST_HEAP_BLOCK: {
		Name:           "Largest Heap Block",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
	},
	CHANNEL_LORA_RSSI: {
		Name:              "RSSI",
		UnitOfMeasurement: "dBm",
		DeviceClass:       DEVICE_CLASS_SIGNAL_STRENGTH,
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
	},
	CHANNEL_LORA_SNR: {
		Name:              "SNR",
		UnitOfMeasurement: "dB",
		DeviceClass:       DEVICE_CLASS_SIGNAL_STRENGTH,
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
	},
	CHANNEL_MESSAGE_COUNT: {
		Name:           "Message Count",
		StateClass:     STATE_CLASS_MEASUREMENT,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
	},
	CHANNEL_ROOM_HUMIDITY: {
		Name:              "Humidity",
		UnitOfMeasurement: "%",
		DeviceClass:       DEVICE_CLASS_HUMIDITY,
		StateClass:        STATE_CLASS_MEASUREMENT,
		EnabledByDefault:  true,
		Decimals:          1,
	},
	CHANNEL_ROOM_TEMPERATURE: {
		Name:              "Temperature",
		UnitOfMeasurement: "°C",
		DeviceClass:       DEVICE_CLASS_TEMPERATURE,
		StateClass:        STATE_CLASS_MEASUREMENT,
		EnabledByDefault:  true,
		Decimals:          1,
	},
}

var deviceModels = map[string]string{
	DEVICE_TYPE_GATEWAY:   "Gateway",
	DEVICE_TYPE_INTERFACE: "Interface",
}

// ChannelMetadata returns the presentation metadata of a channel. Channels
// outside the known vocabulary get a plain sensor named after their key.
func ChannelMetadata(channel string) (ChannelMeta, bool) {
	meta, ok := channelMeta[channel]
	if !ok {
		return ChannelMeta{Name: channel, EnabledByDefault: true}, false
	}
	return meta, true
}

func KnownChannels() []string {
	channels := make([]string, 0, len(channelMeta))
	for ch := range channelMeta {
		channels = append(channels, ch)
	}
	return channels
}

func DeviceModel(deviceType string) string {
	if model, ok := deviceModels[deviceType]; ok {
		return model
	}
	return deviceType
}
