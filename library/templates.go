package library

const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8" />
  <style>
    html, body { margin: 0; height: 100%; background: #1a1a2e; color: #eee; font-family: sans-serif; }
    .stats { position: absolute; right: 24px; bottom: 24px; }
  </style>
</head>
<body>
  <div class="stats" id="stats">...</div>
  <script>
    async function refresh() {
      try {
        const s = await getSystemInfo();
        document.getElementById("stats").textContent =
          "CPU " + s.data.cpu_usage_percent.toFixed(1) + "%  MEM " + s.data.memory_usage_percent.toFixed(1) + "%";
      } catch (e) {}
    }
    setInterval(refresh, 2000);
    refresh();
  </script>
</body>
</html>
`

const shaderTemplate = `precision mediump float;

uniform vec2 iResolution;
uniform float iTime;

void main() {
    vec2 uv = gl_FragCoord.xy / iResolution.xy;
    vec3 col = 0.5 + 0.5 * cos(iTime + uv.xyx + vec3(0.0, 2.0, 4.0));
    gl_FragColor = vec4(col, 1.0);
}
`
