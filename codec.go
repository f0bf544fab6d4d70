package deepdelta

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"
)

// BinaryOptions configures the binary delta codec. Two peers exchanging
// documents must agree on IncludeHeader and, when false, on the schema out
// of band.
type BinaryOptions struct {
	// IncludeHeader writes the magic, version, fingerprint, and tables.
	// Without it the stream is just the operation body and the decoder
	// takes Indexing at face value.
	IncludeHeader bool
	// UseStringTable dedupes string payloads into a header table
	// referenced by index.
	UseStringTable bool
	// UseTypeTable dedupes runtime-type identifiers of polymorphic
	// payloads into a header table.
	UseTypeTable bool
	// IncludeEnumTypeIdentity makes named-integer (enum) payloads carry
	// their declaring type name; otherwise only the numeric value moves.
	IncludeEnumTypeIdentity bool
	// Fingerprint, when non-zero, is the schema tag a decoded header
	// must carry; a mismatch is fatal.
	Fingerprint uint64
	// Indexing is the member indexing mode assumed for headerless
	// streams.
	Indexing IndexingMode

	// Safety caps, enforced on decode before materializing anything
	// large. A stream exceeding any cap is rejected, never truncated.
	// MaxNesting governs the member-path depth of each operation only;
	// the nesting of JSON payloads is bounded by MaxStringBytes and the
	// JSON decoder's own depth limit, not by this cap.
	MaxOps         int
	MaxStringBytes int
	MaxNesting     int
}

// DefaultBinaryOptions returns the codec defaults: full header with both
// tables, and caps sized for well-meaning peers.
func DefaultBinaryOptions() BinaryOptions {
	return BinaryOptions{
		IncludeHeader:  true,
		UseStringTable: true,
		UseTypeTable:   true,
		MaxOps:         1 << 20,
		MaxStringBytes: 16 << 20,
		MaxNesting:     64,
	}
}

const (
	codecMagic   = "DDLT"
	codecVersion = 1

	flagStringTable  = 1 << 0
	flagTypeTable    = 1 << 1
	flagEnumIdentity = 1 << 2
	flagStableIndex  = 1 << 3
)

// value tags of the operation payload encoding
const (
	vtNil byte = iota
	vtFalse
	vtTrue
	vtInt    // zigzag varint
	vtUint   // varint
	vtFloat  // 8-byte IEEE 754 bits
	vtFloat3 // 4-byte IEEE 754 bits
	vtString // table index or inline bytes
	vtBytes  // inline bytes
	vtJSON   // length-prefixed JSON blob
	vtTyped  // type ref + JSON blob
	vtTime   // unix nanos + zone offset, both zigzag varints
	vtEnum   // type ref + zigzag varint
)

// EnumValue is the decoded form of an enum payload that carried its
// declaring type identity on the wire.
type EnumValue struct {
	TypeName string
	Value    int64
}

// Encode serializes doc with the default engine's schema.
func Encode(doc *Document, opts BinaryOptions) ([]byte, error) {
	return New().Encode(doc, opts)
}

// Decode deserializes data with the default engine's schema.
func Decode(data []byte, opts BinaryOptions) (*Document, error) {
	return New().Decode(data, opts)
}

// Encode serializes doc into the compact binary wire form.
func (e *Engine) Encode(doc *Document, opts BinaryOptions) ([]byte, error) {
	if !opts.IncludeHeader {
		// the tables live in the header; a headerless stream inlines
		// every string and type identifier
		opts.UseStringTable = false
		opts.UseTypeTable = false
	}
	enc := &encoder{e: e, opts: opts, stringIdx: map[string]int{}, typeIdx: map[string]int{}}

	// the body is built first so the header can carry the tables it
	// references
	body := binary.AppendUvarint(nil, uint64(len(doc.Ops)))
	for _, op := range doc.Ops {
		var err error
		if body, err = enc.op(body, op); err != nil {
			return nil, err
		}
	}

	if !opts.IncludeHeader {
		return body, nil
	}

	out := []byte(codecMagic)
	out = append(out, codecVersion)
	var flags byte
	if opts.UseStringTable {
		flags |= flagStringTable
	}
	if opts.UseTypeTable {
		flags |= flagTypeTable
	}
	if opts.IncludeEnumTypeIdentity {
		flags |= flagEnumIdentity
	}
	if doc.Indexing == IndexStable {
		flags |= flagStableIndex
	}
	out = append(out, flags)
	out = binary.BigEndian.AppendUint64(out, doc.Fingerprint)
	out = appendString(out, doc.TypeName)
	if opts.UseStringTable {
		out = binary.AppendUvarint(out, uint64(len(enc.strings)))
		for _, s := range enc.strings {
			out = appendString(out, s)
		}
	}
	if opts.UseTypeTable {
		out = binary.AppendUvarint(out, uint64(len(enc.types)))
		for _, s := range enc.types {
			out = appendString(out, s)
		}
	}
	return append(out, body...), nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

type encoder struct {
	e    *Engine
	opts BinaryOptions

	strings   []string
	stringIdx map[string]int
	types     []string
	typeIdx   map[string]int
}

func (enc *encoder) op(buf []byte, op *Op) ([]byte, error) {
	if len(op.Path) == 0 {
		return nil, fmt.Errorf("encode: op with empty member path")
	}
	buf = append(buf, byte(op.Kind))
	buf = binary.AppendUvarint(buf, uint64(len(op.Path)))
	for _, idx := range op.Path {
		buf = binary.AppendUvarint(buf, idx)
	}

	var err error
	switch op.Kind {
	case OpSetMember:
		buf, err = enc.value(buf, op.Value)
	case OpSeqAddAt, OpSeqSetAt:
		buf = binary.AppendUvarint(buf, uint64(op.Index))
		buf, err = enc.value(buf, op.Value)
	case OpSeqRemoveAt:
		buf = binary.AppendUvarint(buf, uint64(op.Index))
	case OpMapSet:
		if buf, err = enc.value(buf, op.Key); err != nil {
			return nil, err
		}
		buf, err = enc.value(buf, op.Value)
	case OpMapRemove:
		buf, err = enc.value(buf, op.Key)
	default:
		return nil, fmt.Errorf("encode: unknown op kind %d", op.Kind)
	}
	return buf, err
}

func (enc *encoder) stringRef(buf []byte, s string) []byte {
	if !enc.opts.UseStringTable {
		return appendString(buf, s)
	}
	idx, ok := enc.stringIdx[s]
	if !ok {
		idx = len(enc.strings)
		enc.strings = append(enc.strings, s)
		enc.stringIdx[s] = idx
	}
	return binary.AppendUvarint(buf, uint64(idx))
}

func (enc *encoder) typeRef(buf []byte, name string) []byte {
	if !enc.opts.UseTypeTable {
		return appendString(buf, name)
	}
	idx, ok := enc.typeIdx[name]
	if !ok {
		idx = len(enc.types)
		enc.types = append(enc.types, name)
		enc.typeIdx[name] = idx
	}
	return binary.AppendUvarint(buf, uint64(idx))
}

func (enc *encoder) value(buf []byte, v any) ([]byte, error) {
	if v == nil {
		return append(buf, vtNil), nil
	}
	if ev, ok := v.(EnumValue); ok {
		buf = append(buf, vtEnum)
		buf = enc.typeRef(buf, ev.TypeName)
		return binary.AppendVarint(buf, ev.Value), nil
	}
	if t, ok := v.(time.Time); ok {
		_, offset := t.Zone()
		buf = append(buf, vtTime)
		buf = binary.AppendVarint(buf, t.UnixNano())
		return binary.AppendVarint(buf, int64(offset)), nil
	}
	if b, ok := v.([]byte); ok {
		buf = append(buf, vtBytes)
		buf = binary.AppendUvarint(buf, uint64(len(b)))
		return append(buf, b...), nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return append(buf, vtNil), nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			return append(buf, vtTrue), nil
		}
		return append(buf, vtFalse), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if enc.opts.IncludeEnumTypeIdentity && rv.Type().PkgPath() != "" {
			buf = append(buf, vtEnum)
			buf = enc.typeRef(buf, rv.Type().Name())
			return binary.AppendVarint(buf, rv.Int()), nil
		}
		buf = append(buf, vtInt)
		return binary.AppendVarint(buf, rv.Int()), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		buf = append(buf, vtUint)
		return binary.AppendUvarint(buf, rv.Uint()), nil

	case reflect.Float32:
		buf = append(buf, vtFloat3)
		return binary.BigEndian.AppendUint32(buf, math.Float32bits(float32(rv.Float()))), nil

	case reflect.Float64:
		buf = append(buf, vtFloat)
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(rv.Float())), nil

	case reflect.String:
		buf = append(buf, vtString)
		return enc.stringRef(buf, rv.String()), nil

	case reflect.Struct:
		if rv.Type() == timeType {
			return enc.value(buf, rv.Interface())
		}
		if name, ok := enc.e.schema.nameFor(rv.Type()); ok {
			blob, err := json.Marshal(rv.Interface())
			if err != nil {
				return nil, fmt.Errorf("encode %s payload: %w", name, err)
			}
			buf = append(buf, vtTyped)
			buf = enc.typeRef(buf, name)
			buf = binary.AppendUvarint(buf, uint64(len(blob)))
			return append(buf, blob...), nil
		}
		fallthrough

	default:
		blob, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode payload %T: %w", v, err)
		}
		buf = append(buf, vtJSON)
		buf = binary.AppendUvarint(buf, uint64(len(blob)))
		return append(buf, blob...), nil
	}
}

// withDefaultCaps substitutes the default for any unset safety cap so a
// zero cap can never mean "unlimited".
func (o BinaryOptions) withDefaultCaps() BinaryOptions {
	def := DefaultBinaryOptions()
	if o.MaxOps <= 0 {
		o.MaxOps = def.MaxOps
	}
	if o.MaxStringBytes <= 0 {
		o.MaxStringBytes = def.MaxStringBytes
	}
	if o.MaxNesting <= 0 {
		o.MaxNesting = def.MaxNesting
	}
	return o
}

// Decode parses data into a Document, enforcing the safety caps before
// anything proportional to the declared sizes is allocated. Any
// malformation is fatal: no partial document is returned.
func (e *Engine) Decode(data []byte, opts BinaryOptions) (*Document, error) {
	opts = opts.withDefaultCaps()
	if !opts.IncludeHeader {
		opts.UseStringTable = false
		opts.UseTypeTable = false
	}
	dec := &decoder{e: e, opts: opts, buf: data, stringTable: opts.UseStringTable, typeTable: opts.UseTypeTable}
	doc := &Document{Indexing: opts.Indexing.resolve(true)}

	if opts.IncludeHeader {
		if err := dec.header(doc); err != nil {
			return nil, err
		}
	}

	count, err := dec.uvarint()
	if err != nil {
		return nil, err
	}
	if count > uint64(opts.MaxOps) {
		return nil, fmt.Errorf("%w: %d ops, cap %d", ErrCapExceeded, count, opts.MaxOps)
	}
	if count > uint64(dec.remaining()) {
		return nil, fmt.Errorf("%w: %d ops in %d remaining bytes", ErrCorrupt, count, dec.remaining())
	}

	doc.Ops = make([]*Op, 0, count)
	for i := uint64(0); i < count; i++ {
		op, err := dec.op()
		if err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
		doc.Ops = append(doc.Ops, op)
	}
	if dec.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, dec.remaining())
	}
	return doc, nil
}

type decoder struct {
	e    *Engine
	opts BinaryOptions
	buf  []byte
	pos  int

	strings      []string
	types        []string
	enumIdentity bool
	stringTable  bool
	typeTable    bool
}

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || n > d.remaining() {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrCorrupt, n, d.remaining())
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) byte() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: malformed varint", ErrCorrupt)
	}
	d.pos += n
	return v, nil
}

func (d *decoder) varint() (int64, error) {
	v, n := binary.Varint(d.buf[d.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: malformed varint", ErrCorrupt)
	}
	d.pos += n
	return v, nil
}

// str reads an inline length-prefixed string, capped.
func (d *decoder) str() (string, error) {
	n, err := d.uvarint()
	if err != nil {
		return "", err
	}
	if n > uint64(d.opts.MaxStringBytes) {
		return "", fmt.Errorf("%w: string of %d bytes, cap %d", ErrCapExceeded, n, d.opts.MaxStringBytes)
	}
	b, err := d.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) header(doc *Document) error {
	magic, err := d.take(4)
	if err != nil {
		return err
	}
	if !bytes.Equal(magic, []byte(codecMagic)) {
		return fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	version, err := d.byte()
	if err != nil {
		return err
	}
	if version != codecVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}
	flags, err := d.byte()
	if err != nil {
		return err
	}
	d.stringTable = flags&flagStringTable != 0
	d.typeTable = flags&flagTypeTable != 0
	d.enumIdentity = flags&flagEnumIdentity != 0
	doc.Indexing = IndexOrdinal
	if flags&flagStableIndex != 0 {
		doc.Indexing = IndexStable
	}

	fp, err := d.take(8)
	if err != nil {
		return err
	}
	doc.Fingerprint = binary.BigEndian.Uint64(fp)
	if d.opts.Fingerprint != 0 && doc.Fingerprint != d.opts.Fingerprint {
		return fmt.Errorf("%w: document %016x, expected %016x", ErrFingerprintMismatch, doc.Fingerprint, d.opts.Fingerprint)
	}

	if doc.TypeName, err = d.str(); err != nil {
		return err
	}

	if d.stringTable {
		if d.strings, err = d.table(); err != nil {
			return err
		}
	}
	if d.typeTable {
		if d.types, err = d.table(); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) table() ([]string, error) {
	count, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	// every entry takes at least one byte, so count may not exceed what
	// is actually present
	if count > uint64(d.remaining()) {
		return nil, fmt.Errorf("%w: table of %d entries in %d remaining bytes", ErrCorrupt, count, d.remaining())
	}
	entries := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		s, err := d.str()
		if err != nil {
			return nil, err
		}
		entries = append(entries, s)
	}
	return entries, nil
}

func (d *decoder) op() (*Op, error) {
	kind, err := d.byte()
	if err != nil {
		return nil, err
	}
	op := &Op{Kind: OpKind(kind)}
	if op.Kind < OpSetMember || op.Kind > OpMapRemove {
		return nil, fmt.Errorf("%w: unknown op kind %d", ErrCorrupt, kind)
	}

	pathLen, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	if pathLen == 0 {
		return nil, fmt.Errorf("%w: empty member path", ErrCorrupt)
	}
	if pathLen > uint64(d.opts.MaxNesting) {
		return nil, fmt.Errorf("%w: path of %d segments, cap %d", ErrCapExceeded, pathLen, d.opts.MaxNesting)
	}
	op.Path = make([]uint64, pathLen)
	for i := range op.Path {
		if op.Path[i], err = d.uvarint(); err != nil {
			return nil, err
		}
	}

	switch op.Kind {
	case OpSetMember:
		op.Value, err = d.value()
	case OpSeqAddAt, OpSeqSetAt:
		if op.Index, err = d.index(); err != nil {
			return nil, err
		}
		op.Value, err = d.value()
	case OpSeqRemoveAt:
		op.Index, err = d.index()
	case OpMapSet:
		if op.Key, err = d.value(); err != nil {
			return nil, err
		}
		op.Value, err = d.value()
	case OpMapRemove:
		op.Key, err = d.value()
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}

func (d *decoder) index() (int, error) {
	v, err := d.uvarint()
	if err != nil {
		return 0, err
	}
	if v > uint64(math.MaxInt32) {
		return 0, fmt.Errorf("%w: sequence index %d", ErrCorrupt, v)
	}
	return int(v), nil
}

func (d *decoder) stringRef() (string, error) {
	if !d.stringTable {
		return d.str()
	}
	idx, err := d.uvarint()
	if err != nil {
		return "", err
	}
	if idx >= uint64(len(d.strings)) {
		return "", fmt.Errorf("%w: string table index %d of %d", ErrCorrupt, idx, len(d.strings))
	}
	return d.strings[idx], nil
}

func (d *decoder) typeRef() (string, error) {
	if !d.typeTable {
		return d.str()
	}
	idx, err := d.uvarint()
	if err != nil {
		return "", err
	}
	if idx >= uint64(len(d.types)) {
		return "", fmt.Errorf("%w: type table index %d of %d", ErrCorrupt, idx, len(d.types))
	}
	return d.types[idx], nil
}

func (d *decoder) blob() ([]byte, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(d.opts.MaxStringBytes) {
		return nil, fmt.Errorf("%w: payload of %d bytes, cap %d", ErrCapExceeded, n, d.opts.MaxStringBytes)
	}
	return d.take(int(n))
}

func (d *decoder) value() (any, error) {
	tag, err := d.byte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case vtNil:
		return nil, nil
	case vtFalse:
		return false, nil
	case vtTrue:
		return true, nil
	case vtInt:
		return d.varint()
	case vtUint:
		return d.uvarint()
	case vtFloat:
		b, err := d.take(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case vtFloat3:
		b, err := d.take(4)
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
	case vtString:
		return d.stringRef()
	case vtBytes:
		b, err := d.blob()
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b...), nil
	case vtJSON:
		b, err := d.blob()
		if err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("%w: bad JSON payload: %v", ErrCorrupt, err)
		}
		return v, nil
	case vtTyped:
		name, err := d.typeRef()
		if err != nil {
			return nil, err
		}
		b, err := d.blob()
		if err != nil {
			return nil, err
		}
		t, terr := d.e.schema.TypeOf(name)
		if terr != nil {
			// unknown type identifier: surface the generic value, the
			// registry sees no descriptor for it either way
			var v any
			if err := json.Unmarshal(b, &v); err != nil {
				return nil, fmt.Errorf("%w: bad JSON payload: %v", ErrCorrupt, err)
			}
			return v, nil
		}
		p := reflect.New(t)
		if err := json.Unmarshal(b, p.Interface()); err != nil {
			return nil, fmt.Errorf("%w: bad %s payload: %v", ErrCorrupt, name, err)
		}
		return p.Elem().Interface(), nil
	case vtTime:
		nanos, err := d.varint()
		if err != nil {
			return nil, err
		}
		offset, err := d.varint()
		if err != nil {
			return nil, err
		}
		loc := time.UTC
		if offset != 0 {
			loc = time.FixedZone("", int(offset))
		}
		return time.Unix(0, nanos).In(loc), nil
	case vtEnum:
		name, err := d.typeRef()
		if err != nil {
			return nil, err
		}
		v, err := d.varint()
		if err != nil {
			return nil, err
		}
		return EnumValue{TypeName: name, Value: v}, nil
	default:
		return nil, fmt.Errorf("%w: unknown value tag %d", ErrCorrupt, tag)
	}
}
