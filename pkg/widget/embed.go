package widget

import (
	"bytes"
	"fmt"
	"html/template"
	texttemplate "text/template"
)

// Theme is the visual configuration returned to the embed script.
type Theme struct {
	Color      string `json:"color" bson:"color"`
	Position   string `json:"position" bson:"position"`
	ButtonText string `json:"button_text" bson:"button_text"`
}

func DefaultTheme() Theme {
	return Theme{Color: "#4f46e5", Position: "bottom-right", ButtonText: "Parler à un conseiller"}
}

// Fill replaces empty fields with defaults.
func (t Theme) Fill() Theme {
	d := DefaultTheme()
	if t.Color == "" {
		t.Color = d.Color
	}
	if t.Position == "" {
		t.Position = d.Position
	}
	if t.ButtonText == "" {
		t.ButtonText = d.ButtonText
	}
	return t
}

// Snippet is the HTML a customer pastes on their site.
func Snippet(baseURL, agentID string) string {
	return fmt.Sprintf("<hallcall agent-id=\"%s\"></hallcall>\n<script src=\"%s/embed.js\" async></script>", agentID, baseURL)
}

var embedTmpl = texttemplate.Must(texttemplate.New("embed").Parse(`(function () {
  "use strict";
  var BASE = {{printf "%q" .BaseURL}};
  if (window.__hallcallLoaded) { return; }
  window.__hallcallLoaded = true;

  function getJSON(path) {
    return fetch(BASE + path, { credentials: "omit" }).then(function (r) {
      if (!r.ok) { throw new Error("hallcall: " + path + " " + r.status); }
      return r.json();
    });
  }

  function mount(el) {
    var agentId = el.getAttribute("agent-id");
    if (!agentId) { return; }
    getJSON("/api/widgets/config/" + encodeURIComponent(agentId)).then(function (cfg) {
      var theme = cfg.theme || {};
      var btn = document.createElement("button");
      btn.textContent = theme.button_text || "Call";
      btn.style.cssText = "position:fixed;z-index:2147483000;border:0;border-radius:24px;padding:12px 20px;color:#fff;cursor:pointer;" +
        "background:" + (theme.color || "#4f46e5") + ";" +
        (theme.position === "bottom-left" ? "left:20px;" : "right:20px;") + "bottom:20px;";
      var frame = null;
      btn.addEventListener("click", function () {
        if (frame) { frame.remove(); frame = null; return; }
        getJSON("/api/widgets/signed-url/" + encodeURIComponent(agentId)).then(function (s) {
          frame = document.createElement("iframe");
          frame.src = BASE + "/widget/" + encodeURIComponent(agentId);
          frame.allow = "microphone";
          frame.style.cssText = "position:fixed;z-index:2147483000;bottom:80px;width:360px;height:480px;border:0;border-radius:12px;box-shadow:0 8px 32px rgba(0,0,0,.2);" +
            (theme.position === "bottom-left" ? "left:20px;" : "right:20px;");
          frame.addEventListener("load", function () {
            frame.contentWindow.postMessage({ type: "hallcall:start", signedUrl: s.signed_url }, BASE);
          });
          document.body.appendChild(frame);
        }).catch(function (e) { console.warn(e); });
      });
      document.body.appendChild(btn);
    }).catch(function (e) { console.warn(e); });
  }

  function init() {
    var nodes = document.getElementsByTagName("hallcall");
    for (var i = 0; i < nodes.length; i++) { mount(nodes[i]); }
  }
  if (document.readyState === "loading") {
    document.addEventListener("DOMContentLoaded", init);
  } else {
    init();
  }
})();
`))

// EmbedScript renders embed.js for the given public base URL.
func EmbedScript(baseURL string) ([]byte, error) {
	var buf bytes.Buffer
	if err := embedTmpl.Execute(&buf, struct{ BaseURL string }{baseURL}); err != nil {
		return nil, fmt.Errorf("render embed script: %w", err)
	}
	return buf.Bytes(), nil
}

var pageTmpl = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="fr">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Name}}</title>
<style>
  body { margin:0; font-family:system-ui,sans-serif; display:flex; flex-direction:column; height:100vh; }
  header { background:{{.Theme.Color}}; color:#fff; padding:12px 16px; font-weight:600; }
  #status { flex:1; display:flex; align-items:center; justify-content:center; color:#555; }
  button { margin:16px; padding:12px; border:0; border-radius:8px; background:{{.Theme.Color}}; color:#fff; font-size:15px; }
</style>
</head>
<body data-agent-id="{{.AgentID}}">
<header>{{.Name}}</header>
<div id="status">Prêt</div>
<button id="hangup" disabled>Raccrocher</button>
<script>
(function () {
  var status = document.getElementById("status");
  var hangup = document.getElementById("hangup");
  var ws = null, ctx = null, stream = null;
  var ALLOWED = {{.AllowedDomains}} || [];

  function hostOf(origin) {
    var h = String(origin || "").toLowerCase().replace(/^[a-z]+:\/\//, "").split("/")[0];
    if (h.charAt(0) === "[") { h = h.slice(1, h.indexOf("]")); } else { h = h.split(":")[0]; }
    return h.replace(/\.$/, "").replace(/^www\./, "");
  }

  function originAllowed(origin) {
    if (!ALLOWED.length) { return true; }
    var h = hostOf(origin);
    if (!h || h === "null") { return false; }
    for (var i = 0; i < ALLOWED.length; i++) {
      var d = ALLOWED[i];
      if (d.indexOf("*.") === 0) {
        var apex = d.slice(2);
        if (h === apex || h.slice(-apex.length - 1) === "." + apex) { return true; }
      } else if (h === d) {
        return true;
      }
    }
    return false;
  }

  function stop() {
    if (ws) { ws.close(); ws = null; }
    if (stream) { stream.getTracks().forEach(function (t) { t.stop(); }); stream = null; }
    if (ctx) { ctx.close(); ctx = null; }
    hangup.disabled = true;
    status.textContent = "Appel terminé";
  }
  hangup.addEventListener("click", stop);

  window.addEventListener("message", function (ev) {
    if (ev.source !== window.parent || !originAllowed(ev.origin)) { return; }
    if (!ev.data || ev.data.type !== "hallcall:start" || ws) { return; }
    if (!/^wss:\/\//.test(String(ev.data.signedUrl))) { return; }
    status.textContent = "Connexion…";
    navigator.mediaDevices.getUserMedia({ audio: true }).then(function (s) {
      stream = s;
      ctx = new AudioContext({ sampleRate: 16000 });
      ws = new WebSocket(ev.data.signedUrl);
      ws.onopen = function () {
        status.textContent = "En ligne";
        hangup.disabled = false;
        var src = ctx.createMediaStreamSource(stream);
        var proc = ctx.createScriptProcessor(4096, 1, 1);
        proc.onaudioprocess = function (e) {
          if (!ws || ws.readyState !== 1) { return; }
          var f = e.inputBuffer.getChannelData(0), pcm = new Int16Array(f.length);
          for (var i = 0; i < f.length; i++) { pcm[i] = Math.max(-1, Math.min(1, f[i])) * 0x7fff; }
          var bin = "", bytes = new Uint8Array(pcm.buffer);
          for (var j = 0; j < bytes.length; j++) { bin += String.fromCharCode(bytes[j]); }
          ws.send(JSON.stringify({ user_audio_chunk: btoa(bin) }));
        };
        src.connect(proc); proc.connect(ctx.destination);
      };
      ws.onmessage = function (m) {
        var msg = JSON.parse(m.data);
        if (msg.type === "ping") {
          ws.send(JSON.stringify({ type: "pong", event_id: msg.ping_event.event_id }));
        } else if (msg.type === "audio" && msg.audio_event) {
          var raw = atob(msg.audio_event.audio_base_64), buf = new Int16Array(raw.length / 2);
          for (var i = 0; i < buf.length; i++) { buf[i] = raw.charCodeAt(2 * i) | (raw.charCodeAt(2 * i + 1) << 8); }
          var out = ctx.createBuffer(1, buf.length, 16000), ch = out.getChannelData(0);
          for (var k = 0; k < buf.length; k++) { ch[k] = buf[k] / 0x8000; }
          var node = ctx.createBufferSource(); node.buffer = out; node.connect(ctx.destination); node.start();
        }
      };
      ws.onclose = stop;
    }).catch(function () { status.textContent = "Micro indisponible"; });
  });
})();
</script>
</body>
</html>
`))

// PageData is rendered into the iframe page.
type PageData struct {
	AgentID string
	Name    string
	Theme   Theme
	// AllowedDomains limits which embedding pages may start a session.
	AllowedDomains []string
}

// RenderPage renders the iframe document for an agent.
func RenderPage(data PageData) ([]byte, error) {
	data.Theme = data.Theme.Fill()
	hosts := make([]string, 0, len(data.AllowedDomains))
	for _, d := range data.AllowedDomains {
		if d = normalizeHost(d); d != "" {
			hosts = append(hosts, d)
		}
	}
	data.AllowedDomains = hosts
	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render widget page: %w", err)
	}
	return buf.Bytes(), nil
}
