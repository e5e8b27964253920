package webchat

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-go-golems/embedchat/pkg/attachments"
	"github.com/go-go-golems/embedchat/pkg/conversation"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type widgetSnapshot struct {
	WidgetInfo
	ConversationID string                       `json:"conversationId"`
	Busy           bool                         `json:"busy"`
	Typing         bool                         `json:"typing"`
	Recording      bool                         `json:"recording"`
	Messages       []conversation.Message       `json:"messages"`
	Attachments    []attachments.FileDescriptor `json:"attachments,omitempty"`
}

type chatRequest struct {
	Text string `json:"text"`
}

type chatResponse struct {
	Error    string                 `json:"error,omitempty"`
	Messages []conversation.Message `json:"messages"`
}

// inboundFrame is what the browser sends over the socket.
type inboundFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (s *Server) snapshot() widgetSnapshot {
	snap := widgetSnapshot{
		WidgetInfo:     s.info,
		ConversationID: s.widget.Conversation().ID(),
		Busy:           s.widget.Busy(),
		Typing:         s.widget.Typing(),
		Recording:      s.widget.Recording(),
		Messages:       s.widget.Conversation().Messages(),
	}
	if s.info.Uploads && s.tray != nil {
		snap.Attachments = s.tray.List()
	}
	return snap
}

func (s *Server) handleWidget(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleChat(w http.ResponseWriter, req *http.Request) {
	var in chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<20)).Decode(&in); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	err := s.widget.SubmitText(s.baseCtx, in.Text)
	switch {
	case errors.Is(err, conversation.ErrEmpty):
		http.Error(w, "missing text", http.StatusBadRequest)
	case errors.Is(err, conversation.ErrBusy):
		http.Error(w, "a message is already being sent", http.StatusConflict)
	case err != nil:
		writeJSON(w, http.StatusBadGateway, chatResponse{Error: err.Error(), Messages: s.widget.Conversation().Messages()})
	default:
		writeJSON(w, http.StatusOK, chatResponse{Messages: s.widget.Conversation().Messages()})
	}
}

func (s *Server) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	s.pool.Add(conn)
	defer s.pool.Remove(conn)

	if hello, err := json.Marshal(struct {
		Type string `json:"type"`
		widgetSnapshot
	}{Type: "snapshot", widgetSnapshot: s.snapshot()}); err == nil {
		s.pool.SendToOne(conn, hello)
	}

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("component", "webchat").Msg("ws read ended")
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "text" {
			s.sendError(conn, "unsupported frame")
			continue
		}
		text := frame.Text
		go func() {
			err := s.widget.SubmitText(s.baseCtx, text)
			switch {
			case errors.Is(err, conversation.ErrBusy):
				s.sendError(conn, "busy")
			case errors.Is(err, conversation.ErrEmpty):
				s.sendError(conn, "empty")
			}
		}()
	}
}

func (s *Server) sendError(conn wsConn, msg string) {
	b, err := json.Marshal(errorFrame{Type: "error", Error: msg})
	if err != nil {
		return
	}
	s.pool.SendToOne(conn, b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Str("component", "webchat").Msg("write json response")
	}
}

var indexTemplate = template.Must(template.New("index").Parse(strings.TrimSpace(`
<!doctype html>
<html lang="es">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,sans-serif;background:#F7F8FC;color:#1A1F36;max-width:720px;margin:2rem auto}
#log{border:1px solid #E6E9F0;background:#fff;border-radius:12px;padding:1rem;height:420px;overflow-y:auto}
.user{text-align:right}.user span{background:#FF7A00;color:#fff}
.bot span{background:#F7F8FC;border:1px solid #E6E9F0}
.msg span{display:inline-block;padding:.4rem .8rem;border-radius:12px;margin:.2rem 0;white-space:pre-wrap}
#typing{color:#6B7280;font-style:italic;min-height:1.2rem}
</style>
</head>
<body>
<h2>{{.Title}}</h2>
<p>{{.Description}}</p>
<div id="log"></div>
<div id="typing"></div>
<form id="f"><input id="t" autocomplete="off" style="width:80%"><button>Enviar</button></form>
<script>
const log=document.getElementById("log"),typing=document.getElementById("typing");
const byId={};
function render(m){let el=byId[m.id];if(!el){el=document.createElement("div");el.innerHTML="<span></span>";log.appendChild(el);byId[m.id]=el}
el.className="msg "+m.sender;el.firstChild.textContent=m.content+(m.status==="error"?" ✗":"");log.scrollTop=log.scrollHeight}
const ws=new WebSocket((location.protocol==="https:"?"wss://":"ws://")+location.host+"/ws");
ws.onmessage=e=>{const ev=JSON.parse(e.data);
if(ev.type==="snapshot"){ev.messages.forEach(render)}
else if(ev.message){render(ev.message)}
else if(ev.type==="typing"){typing.textContent=ev.typing?"Escribiendo...":""}};
document.getElementById("f").onsubmit=e=>{e.preventDefault();const t=document.getElementById("t");
if(t.value.trim()){ws.send(JSON.stringify({type:"text",text:t.value}));t.value=""}};
</script>
</body>
</html>
`)))

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, s.info); err != nil {
		log.Warn().Err(err).Str("component", "webchat").Msg("render index")
	}
}
