package server

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>GoChat Realtime Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
        }
        input[type="text"] { width: 200px; padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>GoChat Realtime Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>
    <div>Online: <span id="online">-</span></div>

    <div>
        <input type="text" id="userId" placeholder="Your user id">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <input type="text" id="peerId" placeholder="Peer user id">
        <button onclick="signal('startTyping')">Start typing</button>
        <button onclick="signal('stopTyping')">Stop typing</button>
    </div>
    <div>
        <input type="text" id="conversationId" placeholder="Conversation id">
        <button onclick="acknowledge()">Mark seen</button>
    </div>

    <div id="events"></div>

    <script>
        let ws = null;
        const eventsDiv = document.getElementById('events');
        const statusDiv = document.getElementById('status');
        const onlineSpan = document.getElementById('online');
        const connectButton = document.getElementById('connectButton');

        function log(text) {
            const line = document.createElement('div');
            line.textContent = text;
            eventsDiv.appendChild(line);
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const userId = encodeURIComponent(document.getElementById('userId').value.trim());
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?userId=' + userId);

            ws.onopen = function() { log('connected'); updateStatus(true); };
            ws.onmessage = function(event) {
                const frame = JSON.parse(event.data);
                if (frame.event === 'onlineUsers') {
                    onlineSpan.textContent = frame.data.join(', ') || '-';
                }
                log(event.data);
            };
            ws.onclose = function() { log('closed'); updateStatus(false); ws = null; };
            ws.onerror = function() { log('connection error'); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function send(frame) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify(frame));
                log('> ' + JSON.stringify(frame));
            }
        }

        function signal(type) {
            send({ type: type, toUserId: document.getElementById('peerId').value.trim() });
        }

        function acknowledge() {
            send({
                type: 'acknowledgeSeen',
                conversationId: document.getElementById('conversationId').value.trim(),
                counterpartUserId: document.getElementById('peerId').value.trim()
            });
        }
    </script>
</body>
</html>`
