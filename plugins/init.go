// Package plugins registers all built-in plugins.
package plugins

import (
	"firestige.xyz/tsswitch/pkg/plugin"
	fileinput "firestige.xyz/tsswitch/plugins/input/file"
	nullinput "firestige.xyz/tsswitch/plugins/input/null"
	"firestige.xyz/tsswitch/plugins/input/pcap"
	"firestige.xyz/tsswitch/plugins/input/srt"
	udpinput "firestige.xyz/tsswitch/plugins/input/udp"
	"firestige.xyz/tsswitch/plugins/output/drop"
	fileoutput "firestige.xyz/tsswitch/plugins/output/file"
	"firestige.xyz/tsswitch/plugins/output/kafka"
	udpoutput "firestige.xyz/tsswitch/plugins/output/udp"
)

func init() {
	// Register input plugins
	plugin.RegisterInput("file", fileinput.New)
	plugin.RegisterInput("udp", udpinput.New)
	plugin.RegisterInput("srt", srt.New)
	plugin.RegisterInput("pcap", pcap.New)
	plugin.RegisterInput("null", nullinput.New)

	// Register output plugins
	plugin.RegisterOutput("file", fileoutput.New)
	plugin.RegisterOutput("udp", udpoutput.New)
	plugin.RegisterOutput("kafka", kafka.New)
	plugin.RegisterOutput("drop", drop.New)
}
