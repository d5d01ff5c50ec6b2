// Package provisioning mints contractor QR tokens for facilities.
//
// Each facility gets one token whose start_time and exp are the facility's
// own effective window, embedded in the contractor app URL as the
// "authenticate" query parameter. The URL is rendered to a scannable PNG
// by a Renderer. Export bundles the artifacts for many facilities into a
// ZIP archive laid out as customer/facility/.
package provisioning
