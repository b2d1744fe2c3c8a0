package room

// RoomState is the canonical document for one room. All mutation flows through
// a Room actor so nothing outside this package ever sees a half-applied state.
type RoomState struct {
	RoomID    string `json:"room_id"`
	Version   int64  `json:"version"`
	GMID      string `json:"gm_id,omitempty"`
	GMUserID  string `json:"gm_user_id,omitempty"`
	GMKeyHash string `json:"gm_key_hash,omitempty"`

	AllowPlayersMove bool `json:"allow_players_move"`
	AllowAllMove     bool `json:"allow_all_move"`
	Lockdown         bool `json:"lockdown"`

	BackgroundMode string `json:"background_mode"`
	BackgroundURL  string `json:"background_url,omitempty"`
	TerrainSeed    int64  `json:"terrain_seed,omitempty"`
	TerrainStyle   string `json:"terrain_style,omitempty"`

	LayerVisibility map[string]bool `json:"layer_visibility"`

	Tokens  map[string]*Token  `json:"tokens"`
	Strokes map[string]*Stroke `json:"strokes"`
	Shapes  map[string]*Shape  `json:"shapes"`

	DrawOrder DrawOrder `json:"draw_order"`
}

type DrawOrder struct {
	Strokes []string `json:"strokes"`
	Shapes  []string `json:"shapes"`
}

type Token struct {
	ID        string   `json:"id"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Name      string   `json:"name"`
	Color     string   `json:"color"`
	ImageURL  string   `json:"image_url,omitempty"`
	SizeScale float64  `json:"size_scale"`
	OwnerID   string   `json:"owner_id,omitempty"`
	Locked    bool     `json:"locked"`
	Badges    []string `json:"badges"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Stroke struct {
	ID     string  `json:"id"`
	Points []Point `json:"points"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Locked bool    `json:"locked"`
	Layer  string  `json:"layer"`
}

const (
	LayerMap      = "map"
	LayerDraw     = "draw"
	LayerNotes    = "notes"
	ShapeRect     = "rect"
	ShapeCircle   = "circle"
	ShapeLine     = "line"
	BGSolid       = "solid"
	BGURL         = "url"
	BGTerrain     = "terrain"
	TerrainGrass  = "grassland"
	TerrainDirt   = "dirt"
	TerrainSnow   = "snow"
	TerrainDesert = "desert"
)

type Shape struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	X2     float64 `json:"x2"`
	Y2     float64 `json:"y2"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Fill   bool    `json:"fill"`
	Locked bool    `json:"locked"`
	Layer  string  `json:"layer"`
}

// NewRoomState returns a blank room with sane defaults, the shape a brand new
// or never-persisted room starts from.
func NewRoomState(roomID string) *RoomState {
	return &RoomState{
		RoomID:         roomID,
		Version:        0,
		BackgroundMode: BGSolid,
		LayerVisibility: map[string]bool{
			"grid":     true,
			"drawings": true,
			"shapes":   true,
			"tokens":   true,
		},
		Tokens:  make(map[string]*Token),
		Strokes: make(map[string]*Stroke),
		Shapes:  make(map[string]*Shape),
		DrawOrder: DrawOrder{
			Strokes: []string{},
			Shapes:  []string{},
		},
	}
}

// Clone deep-copies the state so the journal can hold independent snapshots.
func (s *RoomState) Clone() *RoomState {
	c := *s
	c.LayerVisibility = make(map[string]bool, len(s.LayerVisibility))
	for k, v := range s.LayerVisibility {
		c.LayerVisibility[k] = v
	}
	c.Tokens = make(map[string]*Token, len(s.Tokens))
	for k, v := range s.Tokens {
		tok := *v
		tok.Badges = append([]string{}, v.Badges...)
		c.Tokens[k] = &tok
	}
	c.Strokes = make(map[string]*Stroke, len(s.Strokes))
	for k, v := range s.Strokes {
		st := *v
		st.Points = append([]Point{}, v.Points...)
		c.Strokes[k] = &st
	}
	c.Shapes = make(map[string]*Shape, len(s.Shapes))
	for k, v := range s.Shapes {
		sh := *v
		c.Shapes[k] = &sh
	}
	c.DrawOrder = DrawOrder{
		Strokes: append([]string{}, s.DrawOrder.Strokes...),
		Shapes:  append([]string{}, s.DrawOrder.Shapes...),
	}
	return &c
}

// Public is a copy of the state with the GM key hash stripped, safe to send
// to clients in STATE_SYNC.
func (s *RoomState) Public() *RoomState {
	c := s.Clone()
	c.GMKeyHash = ""
	return c
}

// NormalizeOrder filters each draw order list down to ids that still exist
// and appends any present id missing from the list, preserving relative
// order and never duplicating an id.
func (s *RoomState) NormalizeOrder() {
	s.DrawOrder.Strokes = normalizeOrder(s.DrawOrder.Strokes, s.Strokes)
	s.DrawOrder.Shapes = normalizeOrder(s.DrawOrder.Shapes, s.Shapes)
}

// normalizeOrder filters order down to ids present in the map, then appends
// any present id missing from order, preserving relative order and never
// duplicating an id. V is unused beyond key lookup, so this works for both
// the stroke and shape draw-order lists.
func normalizeOrder[V any](order []string, present map[string]V) []string {
	seen := make(map[string]bool, len(order))
	out := make([]string, 0, len(present))
	for _, id := range order {
		if _, ok := present[id]; ok && !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	for id := range present {
		if !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	return out
}

// AppendStrokeOrder moves id to the top of paint order, removing any prior
// occurrence first.
func (s *RoomState) AppendStrokeOrder(id string) {
	s.DrawOrder.Strokes = appendTop(s.DrawOrder.Strokes, id)
}

// AppendShapeOrder moves id to the top of paint order, removing any prior
// occurrence first.
func (s *RoomState) AppendShapeOrder(id string) {
	s.DrawOrder.Shapes = appendTop(s.DrawOrder.Shapes, id)
}

// RemoveStrokeOrder drops id from paint order if present.
func (s *RoomState) RemoveStrokeOrder(id string) {
	s.DrawOrder.Strokes = removeID(s.DrawOrder.Strokes, id)
}

// RemoveShapeOrder drops id from paint order if present.
func (s *RoomState) RemoveShapeOrder(id string) {
	s.DrawOrder.Shapes = removeID(s.DrawOrder.Shapes, id)
}

func appendTop(order []string, id string) []string {
	out := removeID(order, id)
	return append(out, id)
}

func removeID(order []string, id string) []string {
	out := make([]string, 0, len(order))
	for _, v := range order {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
