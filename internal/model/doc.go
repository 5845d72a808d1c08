// Package model holds the typed representations of La Marzocco payloads.
//
// Field names follow the vendor's JSON byte-for-byte so a parsed payload can
// be re-serialised without loss. Three families of shapes live here:
//
//   - Cloud customer-app payloads: Thing, Dashboard, Settings, Scheduling,
//     Statistics and the widget tagged union keyed by WidgetCode.
//   - Machine-local payloads: LocalConfig, the legacy config document served
//     on port 8081 and pushed over the local stream.
//   - Bluetooth reads: MachineCapabilities, BLEBoiler, BLESmartStandby.
//
// # Widgets
//
// Dashboard widgets arrive as {code, index, output}. The output shape depends
// on the code, so Widget decodes into one of the registered WidgetOutput
// types. Codes this package does not know, and known codes whose output fails
// to decode, become *Unsupported and keep their raw JSON:
//
//	var d model.Dashboard
//	if err := json.Unmarshal(body, &d); err != nil {
//	    return err
//	}
//	if boiler, ok := d.Config[model.WidgetCoffeeBoiler].(*model.CoffeeBoiler); ok {
//	    fmt.Println(boiler.TargetTemperature)
//	}
//
// # Thread Safety
//
// Types in this package are plain data and carry no locking. The device
// façade owns the only mutable copy.
package model
