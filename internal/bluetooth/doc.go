// Package bluetooth drives La Marzocco machines over BLE GATT.
//
// Every exchange opens a fresh connection, writes the pairing token to
// the auth characteristic, then either writes a JSON setting to the
// write characteristic or writes a value name to the read characteristic
// and reads the answer back. The pairing token itself can only be read
// while the machine is in pairing mode.
//
// The radio is abstracted behind Scanner and Link so the protocol can be
// tested without hardware; TinyGoRadio is the production implementation.
package bluetooth
