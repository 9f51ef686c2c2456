package zcl

// Built-in cluster definitions. Received commands are the ones the cluster
// server sends to us (e.g. a poll-control check-in); everything under cmds
// travels client→server.
func init() {
	register(clusterDef{
		id: 0x0000, name: "genBasic",
		attrs: []Attribute{
			{ID: 0x0000, Name: "zclVersion", Type: TypeUint8},
			{ID: 0x0001, Name: "appVersion", Type: TypeUint8},
			{ID: 0x0002, Name: "stackVersion", Type: TypeUint8},
			{ID: 0x0003, Name: "hwVersion", Type: TypeUint8},
			{ID: 0x0004, Name: "manufacturerName", Type: TypeCharStr},
			{ID: 0x0005, Name: "modelId", Type: TypeCharStr},
			{ID: 0x0006, Name: "dateCode", Type: TypeCharStr},
			{ID: 0x0007, Name: "powerSource", Type: TypeEnum8},
		},
		cmds: []Command{
			{ID: 0x00, Name: "resetFactDefault"},
		},
	})

	register(clusterDef{
		id: 0x0001, name: "genPowerCfg",
		attrs: []Attribute{
			{ID: 0x0000, Name: "mainsVoltage", Type: TypeUint16},
			{ID: 0x0020, Name: "batteryVoltage", Type: TypeUint8},
			{ID: 0x0021, Name: "batteryPercentageRemaining", Type: TypeUint8},
		},
	})

	register(clusterDef{
		id: 0x0003, name: "genIdentify",
		attrs: []Attribute{
			{ID: 0x0000, Name: "identifyTime", Type: TypeUint16},
		},
		cmds: []Command{
			{ID: 0x00, Name: "identify", Params: []Param{
				{Name: "identifytime", Type: TypeUint16},
			}},
			{ID: 0x01, Name: "identifyQuery"},
		},
		rcvd: []Command{
			{ID: 0x00, Name: "identifyQueryRsp", Params: []Param{
				{Name: "timeout", Type: TypeUint16},
			}},
		},
	})

	register(clusterDef{
		id: 0x0006, name: "genOnOff",
		attrs: []Attribute{
			{ID: 0x0000, Name: "onOff", Type: TypeBool},
			{ID: 0x4001, Name: "onTime", Type: TypeUint16},
			{ID: 0x4002, Name: "offWaitTime", Type: TypeUint16},
		},
		cmds: []Command{
			{ID: 0x00, Name: "off"},
			{ID: 0x01, Name: "on"},
			{ID: 0x02, Name: "toggle"},
			{ID: 0x40, Name: "offWithEffect", Params: []Param{
				{Name: "effectid", Type: TypeUint8},
				{Name: "effectvariant", Type: TypeUint8},
			}},
			{ID: 0x41, Name: "onWithRecallGlobalScene"},
			{ID: 0x42, Name: "onWithTimedOff", Params: []Param{
				{Name: "ctrlbits", Type: TypeUint8},
				{Name: "ontime", Type: TypeUint16},
				{Name: "offwaittime", Type: TypeUint16},
			}},
		},
	})

	register(clusterDef{
		id: 0x0008, name: "genLevelCtrl",
		attrs: []Attribute{
			{ID: 0x0000, Name: "currentLevel", Type: TypeUint8},
			{ID: 0x0001, Name: "remainingTime", Type: TypeUint16},
		},
		cmds: []Command{
			{ID: 0x00, Name: "moveToLevel", Params: []Param{
				{Name: "level", Type: TypeUint8},
				{Name: "transtime", Type: TypeUint16},
			}},
			{ID: 0x01, Name: "move", Params: []Param{
				{Name: "movemode", Type: TypeUint8},
				{Name: "rate", Type: TypeUint8},
			}},
			{ID: 0x02, Name: "step", Params: []Param{
				{Name: "stepmode", Type: TypeUint8},
				{Name: "stepsize", Type: TypeUint8},
				{Name: "transtime", Type: TypeUint16},
			}},
			{ID: 0x03, Name: "stop"},
			{ID: 0x04, Name: "moveToLevelWithOnOff", Params: []Param{
				{Name: "level", Type: TypeUint8},
				{Name: "transtime", Type: TypeUint16},
			}},
		},
	})

	register(clusterDef{
		id: 0x0020, name: "genPollCtrl",
		attrs: []Attribute{
			{ID: 0x0000, Name: "checkinInterval", Type: TypeUint32},
			{ID: 0x0001, Name: "longPollInterval", Type: TypeUint32},
			{ID: 0x0002, Name: "shortPollInterval", Type: TypeUint16},
			{ID: 0x0003, Name: "fastPollTimeout", Type: TypeUint16},
		},
		cmds: []Command{
			{ID: 0x00, Name: "checkinRsp", Params: []Param{
				{Name: "startFastPolling", Type: TypeBool},
				{Name: "fastPollTimeout", Type: TypeUint16},
			}},
			{ID: 0x01, Name: "fastPollStop"},
			{ID: 0x02, Name: "setLongPollInterval", Params: []Param{
				{Name: "newLongPollInterval", Type: TypeUint32},
			}},
			{ID: 0x03, Name: "setShortPollInterval", Params: []Param{
				{Name: "newShortPollInterval", Type: TypeUint16},
			}},
		},
		rcvd: []Command{
			{ID: 0x00, Name: "checkin"},
		},
	})

	register(clusterDef{
		id: 0x0300, name: "lightingColorCtrl",
		attrs: []Attribute{
			{ID: 0x0000, Name: "currentHue", Type: TypeUint8},
			{ID: 0x0001, Name: "currentSaturation", Type: TypeUint8},
			{ID: 0x0007, Name: "colorTemperature", Type: TypeUint16},
		},
		cmds: []Command{
			{ID: 0x00, Name: "moveToHue", Params: []Param{
				{Name: "hue", Type: TypeUint8},
				{Name: "direction", Type: TypeUint8},
				{Name: "transtime", Type: TypeUint16},
			}},
			{ID: 0x0a, Name: "moveToColorTemp", Params: []Param{
				{Name: "colortemp", Type: TypeUint16},
				{Name: "transtime", Type: TypeUint16},
			}},
		},
	})

	register(clusterDef{
		id: 0x0402, name: "msTemperatureMeasurement",
		attrs: []Attribute{
			{ID: 0x0000, Name: "measuredValue", Type: TypeInt16},
			{ID: 0x0001, Name: "minMeasuredValue", Type: TypeInt16},
			{ID: 0x0002, Name: "maxMeasuredValue", Type: TypeInt16},
		},
	})

	register(clusterDef{
		id: 0x0405, name: "msRelativeHumidity",
		attrs: []Attribute{
			{ID: 0x0000, Name: "measuredValue", Type: TypeUint16},
			{ID: 0x0001, Name: "minMeasuredValue", Type: TypeUint16},
			{ID: 0x0002, Name: "maxMeasuredValue", Type: TypeUint16},
		},
	})
}
