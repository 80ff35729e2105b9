// Package discovery lets devices on the same network learn about each other
// and compare their fact sets without opening a connection.
//
// Every device periodically, and after each local change, broadcasts an
// Announcement carrying its device ID, the address of its sync transport and
// the top hash of its tree. A receiver whose own top hash differs opens a sync
// session with the announcer; equal hashes mean the devices are already in
// sync and nothing happens.
//
// Announcements are signed with the device key. A receiver checks that the
// device ID is derived from the announced public key and that the signature
// covers the payload, so a third party cannot impersonate a device.
package discovery
