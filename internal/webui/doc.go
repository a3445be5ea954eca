// Package webui serves the scale's local web pages.
//
// The pages are installed next to the binary and served from disk, so
// they can be updated without a rebuild. A minimal status page is embedded
// for devices where they are missing. Page routes work with or without the
// .html suffix, matching the links the firmware UI uses (/rfid and
// /rfid.html are the same page).
package webui
