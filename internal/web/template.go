// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/Thermoquad/helioguard/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(seconds int64) string {
		d := time.Duration(seconds) * time.Second
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"lamp": func(on bool) string {
		if on {
			return "on"
		}
		return "off"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Helioguard</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.TRIPPED, .DEAD { color: red; font-weight: bold; }
.BYPASSED { color: orange; }
</style>
</head>
<body>
{{with .Status}}
<h1>Helioguard</h1>
<table>
<tr><th>Circuit</th><td class="{{.Circuit}}">{{.Circuit}}{{if .Breaker.Tripped}} ({{.Breaker.Reason}}){{end}}</td></tr>
<tr><th>Battery</th><td class="{{.Battery}}">{{.Battery}}</td></tr>
<tr><th>Trip threshold</th><td>{{printf "%.2f" .Breaker.TripThresholdMA}} mA</td></tr>
<tr><th>Low voltage</th><td>{{printf "%.2f" .Breaker.LowVoltageV}} V</td></tr>
<tr><th>Output mode</th><td>{{.Output.Mode}}{{if .Output.PhaseName}} / {{.Output.PhaseName}}{{end}}</td></tr>
<tr><th>Indicator</th><td class="{{lamp .Output.Indicator}}">{{lamp .Output.Indicator}}</td></tr>
<tr><th>Yellow / Red / Green</th><td><span class="{{lamp .Output.Yellow}}">{{lamp .Output.Yellow}}</span> / <span class="{{lamp .Output.Red}}">{{lamp .Output.Red}}</span> / <span class="{{lamp .Output.Green}}">{{lamp .Output.Green}}</span></td></tr>
</table>
{{with .Telemetry}}
<table>
<tr><th>Sequence</th><td>{{printf "%03d" .Sequence}}{{if not .Trusted}} (checksum mismatch){{end}}</td></tr>
{{with .Derived}}
<tr><th>Solar</th><td>{{printf "%.3f" .SolarVoltage}} V</td></tr>
<tr><th>Battery</th><td>{{printf "%.3f" .BatteryVoltage}} V, {{printf "%.2f" .BatteryCurrentMA}} mA</td></tr>
<tr><th>Load</th><td>{{printf "%.2f" .TotalLoadMA}} mA</td></tr>
{{end}}
</table>
{{end}}
<table>
<tr><th>Link</th><td>{{if .Link.Up}}up{{else}}down{{end}} {{.Link.Info}}</td></tr>
<tr><th>Frames</th><td>{{.Stats.ValidFrames}} valid / {{.Stats.TotalFrames}} total, {{.Stats.PacketLoss}} lost</td></tr>
<tr><th>MQTT</th><td>{{if .MQTT.Connected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .UptimeSeconds}}</td></tr>
</table>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	return indexTmpl.Execute(w, status.Build(snap))
}
