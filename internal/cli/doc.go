// Package cli implements promptctl, the seller and operator command line.
//
// Commands:
//   - keygen / address: create and inspect the encrypted seller keystore
//   - submit: encrypt a prompt, store it, register it and list it
//   - list / show / metadata: browse the marketplace
//   - decrypt: fetch key shares and open an encrypted prompt
//   - orphans / orphans ack: review what failed submissions left behind
//
// submit, list and metadata go through a promptd gateway when --gateway is
// set and talk to the network directly otherwise.
package cli
