package property

// NameLength is the maximum length of an item or property name.
const NameLength = 128

// TextInlineLength bounds the inline storage of a text item. Longer values
// transparently spill into long storage; readers never see the difference.
const TextInlineLength = 512

// Item is the atomic observable: one named slot of a property's vector.
// The payload variant that applies is keyed by the owning property's type;
// the other variants stay zero.
type Item struct {
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
	Hints string `json:"hints,omitempty"`

	Text   TextValue   `json:"text,omitzero"`
	Number NumberValue `json:"number,omitzero"`
	Switch bool        `json:"switch,omitempty"`
	Light  State       `json:"light,omitempty"`
	Blob   BlobValue   `json:"blob,omitzero"`
}

// TextValue stores a text payload with bounded inline storage and an
// out-of-band long value for oversized input.
type TextValue struct {
	Value     string `json:"value,omitempty"`
	LongValue string `json:"longValue,omitempty"`
	Length    int    `json:"length,omitempty"`
}

// NumberValue stores a numeric payload. Value is authoritative for read-only
// properties; Target is authoritative for change requests.
type NumberValue struct {
	Format string  `json:"format,omitempty"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Step   float64 `json:"step"`
	Value  float64 `json:"value"`
	Target float64 `json:"target"`
}

// BlobValue stores bulk binary content together with its size and a format
// suffix (".fits", ".jpeg", ...). URL is set for URL-mode delivery.
type BlobValue struct {
	Value  []byte `json:"value,omitempty"`
	Size   int64  `json:"size,omitempty"`
	Format string `json:"format,omitempty"`
	URL    string `json:"url,omitempty"`
}

// SetText stores s, spilling into long storage when it exceeds the inline
// bound. Length always reflects the full content.
func (it *Item) SetText(s string) {
	it.Text.Length = len(s)
	if len(s) > TextInlineLength {
		it.Text.Value = s[:TextInlineLength]
		it.Text.LongValue = s
		return
	}
	it.Text.Value = s
	it.Text.LongValue = ""
}

// TextContent returns the full text content, preferring long storage when
// present.
func (it *Item) TextContent() string {
	if it.Text.LongValue != "" {
		return it.Text.LongValue
	}
	return it.Text.Value
}

// SetBlob replaces the BLOB content and size. The caller retains ownership
// of data until the next update completes; readers treat it as borrowed.
func (it *Item) SetBlob(data []byte, format string) {
	it.Blob.Value = data
	it.Blob.Size = int64(len(data))
	it.Blob.Format = format
}

func truncateName(name string) string {
	if len(name) > NameLength {
		return name[:NameLength]
	}
	return name
}

// InitTextItem resets an item as a text item with the given value.
func InitTextItem(it *Item, name, label, value string) {
	*it = Item{Name: truncateName(name), Label: label}
	it.SetText(value)
}

// InitNumberItem resets an item as a number item. Target starts equal to
// Value so a freshly defined item already satisfies min <= target <= max.
func InitNumberItem(it *Item, name, label string, min, max, step, value float64) {
	*it = Item{Name: truncateName(name), Label: label}
	it.Number = NumberValue{Format: "%g", Min: min, Max: max, Step: step, Value: value, Target: value}
}

// InitSwitchItem resets an item as a switch item.
func InitSwitchItem(it *Item, name, label string, value bool) {
	*it = Item{Name: truncateName(name), Label: label, Switch: value}
}

// InitLightItem resets an item as a light item.
func InitLightItem(it *Item, name, label string, value State) {
	*it = Item{Name: truncateName(name), Label: label, Light: value}
}

// InitBLOBItem resets an item as a BLOB item with no content yet.
func InitBLOBItem(it *Item, name, label string) {
	*it = Item{Name: truncateName(name), Label: label}
}
