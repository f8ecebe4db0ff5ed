package host

const clickSchema = `{
  "type": "object",
  "required": ["source"],
  "properties": {"source": {"type": "string", "minLength": 1}}
}`

const openSchema = `{
  "type": "object",
  "required": ["path"],
  "properties": {"path": {"type": "string", "minLength": 1}}
}`

const setConfigSchema = `{
  "type": "object",
  "required": ["content"],
  "properties": {"content": {"type": "string"}}
}`

const saveConfigSchema = `{
  "type": "object",
  "required": ["patch"],
  "properties": {"patch": {"type": "object"}}
}`

const setWallpaperSchema = `{
  "type": "object",
  "required": ["kind", "title"],
  "properties": {
    "kind": {"type": "string", "enum": ["html", "shader"]},
    "title": {"type": "string", "minLength": 1}
  }
}`

const titleSchema = `{
  "type": "object",
  "required": ["title"],
  "properties": {"title": {"type": "string", "minLength": 1}}
}`

const writeFileSchema = `{
  "type": "object",
  "required": ["title", "code"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "code": {"type": "string"}
  }
}`

const saveSchema = `{
  "type": "object",
  "required": ["title", "code"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "code": {"type": "string"},
    "thumbnail": {"type": "string"}
  }
}`
