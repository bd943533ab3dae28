package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/fridge-controller/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"celsius": func(t *float64) string {
		if t == nil {
			return "error"
		}
		return fmt.Sprintf("%.2f°C", *t)
	},
	"onoff": status.OnOff,
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Hostname}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>{{.Hostname}}</h1>

<h2>Temperature</h2>
<table>
{{range .Sensors}}<tr><th>{{.ID}}</th><td>{{celsius .TemperatureC}}</td></tr>
{{else}}<tr><th>Sensors</th><td class="unknown">none found</td></tr>
{{end}}<tr><th>Range</th><td>{{printf "%.2f" .MinimumC}}°C to {{printf "%.2f" .MaximumC}}°C</td></tr>
<tr><th>Scans</th><td>{{.Scans}}</td></tr>
</table>

<h2>Compressor</h2>
<table>
<tr><th>Relay</th><td class="{{if .Relay}}on{{else}}off{{end}}">{{onoff .Relay}}</td></tr>
<tr><th>Mode</th><td>{{.Mode}}</td></tr>
</table>

<h2>Door</h2>
<table>
<tr><th>State</th><td class="{{if eq (printf "%s" .Door) "UNKNOWN"}}unknown{{end}}">{{.Door}}</td></tr>
<tr><th>Opened</th><td>{{.DoorCounts.Opened}}</td></tr>
<tr><th>Closed</th><td>{{.DoorCounts.Closed}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
{{if .Config.Broker}}<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>{{end}}
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}} {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Board</th><td>{{.Config.Board}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Minimum off</th><td>{{.Config.MinOffMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	data := struct {
		status.Snapshot
		Sensors []status.SensorJSON
		Uptime  time.Duration
	}{
		Snapshot: snap,
		Sensors:  status.Sensors(snap.Sensors),
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
