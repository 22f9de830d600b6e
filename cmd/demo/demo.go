package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lattice-sh/doccrdt/backend"
	"github.com/lattice-sh/doccrdt/clock"
	"github.com/lattice-sh/doccrdt/diff"
	"github.com/lattice-sh/doccrdt/listorder"
	"github.com/lattice-sh/doccrdt/skiplist"
	"github.com/lattice-sh/doccrdt/wire"
	"github.com/sanity-io/litter"
)

var (
	port          = flag.Int("port", 8009, "port to run server")
	debug         = flag.Bool("debug", false, "whether to dump debug information. Default debug file is log_{{datetime}}.jsonl")
	debugFilename = flag.String("debug_file", "", "file to dump debug information in JSONL format. Implies --debug")

	staticDir = flag.String("static_dir", "", "Directory with static files")
	debugDir  = flag.String("debug_dir", "", "Directory with static debug files")
)

// -----

type debugMsgType int

const (
	writeDebug debugMsgType = iota
	syncDebug
)

type debugMessage struct {
	msgType debugMsgType
	payload interface{}
}

// -----

// docState is one document's backend engine plus the visible element
// order of its single text object, kept alongside it so the HTTP layer
// never has to walk the skip list to turn an edit position into an
// element id.
type docState struct {
	engine   backend.Engine
	textObj  string
	elemIDs  []string
	nextElem int
}

func newDocState() *docState {
	actor := uuid.New().String()
	e := backend.Init(actor)
	textObj := uuid.New().String()
	change := wire.Change{
		Actor: actor, Seq: 1, Deps: clock.New(),
		Ops: []wire.Op{
			{Action: wire.MakeText, Obj: textObj},
			{Action: wire.Link, Obj: wire.RootID, Key: "text", Value: textObj},
		},
	}
	next, _, err := e.ApplyLocalChange(change)
	if err != nil {
		// Only a programmer error (a malformed change above) reaches
		// here; there is no caller input involved yet.
		panic(fmt.Sprintf("newDocState: %v", err))
	}
	return &docState{engine: next, textObj: textObj}
}

// insertCharAt inserts ch so that it becomes the element at visible
// index predIndex+1, i.e. immediately after the current element at
// predIndex (predIndex < 0 means insert at the start).
func (d *docState) insertCharAt(ch rune, predIndex int) error {
	pred := wire.HeadElem
	if predIndex >= 0 {
		pred = d.elemIDs[predIndex]
	}
	actor := d.engine.Actor
	elem := d.nextElem + 1
	id := listorder.ElemID(actor, elem)
	seq := d.engine.Clock.Get(actor) + 1
	change := wire.Change{
		Actor: actor, Seq: seq, Deps: d.engine.Clock.Without(actor),
		Ops: []wire.Op{
			{Action: wire.Ins, Obj: d.textObj, Key: pred, Elem: elem},
			{Action: wire.Set, Obj: d.textObj, Key: id, Value: string(ch)},
		},
	}
	next, _, err := d.engine.ApplyLocalChange(change)
	if err != nil {
		return err
	}
	d.engine = next
	d.nextElem = elem
	ids := append([]string{}, d.elemIDs[:predIndex+1]...)
	ids = append(ids, id)
	ids = append(ids, d.elemIDs[predIndex+1:]...)
	d.elemIDs = ids
	return nil
}

// deleteCharAt deletes the element currently at visible index i.
func (d *docState) deleteCharAt(i int) error {
	if i < 0 || i >= len(d.elemIDs) {
		return fmt.Errorf("deleteCharAt: index %d out of range", i)
	}
	id := d.elemIDs[i]
	actor := d.engine.Actor
	seq := d.engine.Clock.Get(actor) + 1
	change := wire.Change{
		Actor: actor, Seq: seq, Deps: d.engine.Clock.Without(actor),
		Ops: []wire.Op{{Action: wire.Del, Obj: d.textObj, Key: id}},
	}
	next, _, err := d.engine.ApplyLocalChange(change)
	if err != nil {
		return err
	}
	d.engine = next
	d.elemIDs = append(d.elemIDs[:i], d.elemIDs[i+1:]...)
	return nil
}

// asString reads the text object's current visible content straight
// out of the store's position skip list.
func (d *docState) asString() string {
	obj, ok := d.engine.Store.Get(d.textObj)
	if !ok {
		return ""
	}
	var sb strings.Builder
	it := obj.ElemIDs.Iterator(skiplist.Values)
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		s, _ := v.(string)
		sb.WriteString(s)
	}
	return sb.String()
}

// fork returns a new docState authored by a fresh actor, whose engine
// has absorbed every change newActor's predecessor has recorded so
// far: equivalent to a new replica starting from the current state.
func (d *docState) fork() *docState {
	newActor := uuid.New().String()
	e := backend.Init(newActor)
	changes := d.engine.GetMissingChanges(clock.New())
	next, _, err := e.ApplyChanges(changes)
	if err != nil {
		panic(fmt.Sprintf("fork: %v", err))
	}
	return &docState{
		engine:  next,
		textObj: d.textObj,
		elemIDs: append([]string(nil), d.elemIDs...),
	}
}

// merge absorbs remote's changes into d and keeps elemIDs in step with
// whatever diffs the merge produced for d's text object.
func (d *docState) merge(remote *docState) (wire.Patch, error) {
	next, p, err := d.engine.Merge(remote.engine)
	if err != nil {
		return wire.Patch{}, err
	}
	d.engine = next
	d.elemIDs = applyTextDiffs(d.elemIDs, d.textObj, p.Diffs)
	return p, nil
}

func applyTextDiffs(elemIDs []string, textObj string, diffs []wire.Diff) []string {
	for _, d := range diffs {
		if d.Obj != textObj {
			continue
		}
		switch d.Action {
		case wire.InsertDiff:
			ids := append([]string{}, elemIDs[:d.Index]...)
			ids = append(ids, d.ElemID)
			ids = append(ids, elemIDs[d.Index:]...)
			elemIDs = ids
		case wire.RemoveDiff:
			elemIDs = append(elemIDs[:d.Index], elemIDs[d.Index+1:]...)
		}
	}
	return elemIDs
}

// -----

type state struct {
	sync.Mutex

	debugMsgs chan<- debugMessage

	docs   map[string]*docState
	docIDs []string

	numEditRequests int
	numForkRequests int
	numSyncRequests int
}

func newState(debugMsgs chan<- debugMessage) *state {
	return &state{
		debugMsgs: debugMsgs,
		docs:      make(map[string]*docState),
	}
}

func index(y string, xs []string) int {
	for i, x := range xs {
		if x == y {
			return i
		}
	}
	return len(xs)
}

// -----

func main() {
	flag.Parse()

	debugMsgs := runDebug()
	s := newState(debugMsgs)

	http.Handle("/", http.FileServer(http.Dir(*staticDir)))
	http.Handle("/debug/", http.StripPrefix("/debug", http.FileServer(http.Dir(*debugDir))))
	http.Handle("/edit", editHTTPHandler{s})
	http.Handle("/fork", forkHTTPHandler{s})
	http.Handle("/sync", syncHTTPHandler{s})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Serving in %s\n", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

// -----

type editRequest struct {
	ID  string          `json:"id"`
	Ops []editOperation `json:"ops"`
}

type editOperation struct {
	Op   string `json:"op"`
	Char string `json:"ch"`
	Dist int    `json:"dist"`
}

type editHTTPHandler struct {
	s *state
}

func (h editHTTPHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	parser := json.NewDecoder(req.Body)
	editReq := &editRequest{}
	if err := parser.Decode(editReq); err != nil {
		log.Printf("Error parsing body in /edit: %v", err)
		return
	}
	h.s.handleEdit(w, editReq)
}

func (s *state) handleEdit(w http.ResponseWriter, req *editRequest) {
	s.Lock()
	defer s.Unlock()
	s.writeDebug(map[string]interface{}{
		"Type":    "edit",
		"Request": req,
	})

	id := req.ID
	if _, ok := s.docs[id]; !ok {
		s.docs[id] = newDocState()
		s.docIDs = append(s.docIDs, id)
	}
	doc := s.docs[id]
	before := doc.asString()
	beforeElemIDs := append([]string(nil), doc.elemIDs...)
	beforeNextElem := doc.nextElem

	// Execute operations in order.
	var i int
	for j, op := range req.Ops {
		switch op.Op {
		case "keep":
			i++
		case "insert":
			ch, _ := utf8.DecodeRuneInString(op.Char)
			if err := doc.insertCharAt(ch, i-1); err != nil {
				log.Printf("%s: insertCharAt error: %v", id, err)
			} else {
				log.Printf("%s: operation = insertCharAt %c %d", id, ch, i-1)
			}
			i++
		case "delete":
			if err := doc.deleteCharAt(i); err != nil {
				log.Printf("%s: deleteCharAt error: %v", id, err)
			} else {
				log.Printf("%s: operation = deleteCharAt %d", id, i)
			}
		}
		// Dump documents into debug file.
		if op.Op != "keep" {
			s.writeDebug(map[string]interface{}{
				"Type":     "editStep",
				"ReqIdx":   s.numEditRequests,
				"StepIdx":  j,
				"Sites":    s.debugContents(),
				"LocalIdx": index(id, s.docIDs),
			})
		}
	}
	content := doc.asString()
	log.Printf("%s: value     = %s", id, content)

	if s.isDebug() {
		if ops, err := diff.TextOps(doc.textObj, doc.engine.Actor, beforeNextElem+1, beforeElemIDs, before, content); err != nil {
			log.Printf("%s: diff audit error: %v", id, err)
		} else {
			s.writeDebug(map[string]interface{}{
				"Type":     "editDiffAudit",
				"ReqIdx":   s.numEditRequests,
				"LocalIdx": index(id, s.docIDs),
				"Ops":      litter.Sdump(ops),
			})
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, content)

	s.syncDebug()
	s.numEditRequests++
}

// -----

type forkRequest struct {
	LocalID  string `json:"local"`
	RemoteID string `json:"remote"`
}

type forkHTTPHandler struct {
	s *state
}

func (h forkHTTPHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	parser := json.NewDecoder(req.Body)
	forkReq := &forkRequest{}
	if err := parser.Decode(forkReq); err != nil {
		log.Printf("Error parsing body in /fork: %v", err)
		return
	}
	h.s.handleFork(w, forkReq)
}

func (s *state) handleFork(w http.ResponseWriter, req *forkRequest) {
	s.Lock()
	defer s.Unlock()
	s.writeDebug(map[string]interface{}{
		"Type":    "fork",
		"Request": req,
	})

	local, ok := s.docs[req.LocalID]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "unknown local frontend ID %q", req.LocalID)
		return
	}
	if _, ok := s.docs[req.RemoteID]; ok {
		w.WriteHeader(http.StatusPreconditionFailed)
		fmt.Fprintf(w, "new remote frontend ID already exists: %q", req.RemoteID)
		return
	}
	s.docs[req.RemoteID] = local.fork()
	s.docIDs = append(s.docIDs, req.RemoteID)
	log.Printf("%s: fork      = %s", req.LocalID, req.RemoteID)

	s.writeDebug(map[string]interface{}{
		"Type":      "forkStep",
		"ReqIdx":    s.numForkRequests,
		"StepIdx":   0,
		"Sites":     s.debugContents(),
		"LocalIdx":  index(req.LocalID, s.docIDs),
		"RemoteIdx": index(req.RemoteID, s.docIDs),
	})
	s.numForkRequests++
	s.syncDebug()
}

// -----

type syncRequest struct {
	LocalID   string   `json:"id"`
	RemoteIDs []string `json:"mergeIds"`
}

type syncHTTPHandler struct {
	s *state
}

func (h syncHTTPHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	parser := json.NewDecoder(req.Body)
	syncReq := &syncRequest{}
	if err := parser.Decode(syncReq); err != nil {
		log.Printf("Error parsing body in /sync: %v", err)
		return
	}
	h.s.handleSync(w, syncReq)
}

func (s *state) handleSync(w http.ResponseWriter, req *syncRequest) {
	s.Lock()
	defer s.Unlock()
	s.writeDebug(map[string]interface{}{
		"Type":    "sync",
		"Request": req,
	})

	local, ok := s.docs[req.LocalID]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "unknown local frontend ID %q", req.LocalID)
		return
	}
	for i, remoteID := range req.RemoteIDs {
		remote, ok := s.docs[remoteID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, "unknown remote frontend ID: %q", remoteID)
			return
		}
		p, err := local.merge(remote)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintf(w, "merge error: %v", err)
			return
		}
		log.Printf("%s: merge     = %s", req.LocalID, remoteID)
		if s.isDebug() {
			log.Printf("%s: merge patch = %s", req.LocalID, litter.Sdump(p.Diffs))
		}

		s.writeDebug(map[string]interface{}{
			"Type":      "syncStep",
			"ReqIdx":    s.numSyncRequests,
			"StepIdx":   i,
			"Sites":     s.debugContents(),
			"LocalIdx":  index(req.LocalID, s.docIDs),
			"RemoteIdx": index(remoteID, s.docIDs),
		})
	}

	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, local.asString())

	s.syncDebug()
	s.numSyncRequests++
}

// -----

func (s *state) debugContents() []string {
	if !s.isDebug() {
		return nil
	}
	contents := make([]string, len(s.docIDs))
	for i, id := range s.docIDs {
		contents[i] = s.docs[id].asString()
	}
	return contents
}

func (s *state) isDebug() bool {
	return s.debugMsgs != nil
}

func (s *state) writeDebug(x interface{}) {
	if s.isDebug() {
		s.debugMsgs <- debugMessage{
			msgType: writeDebug,
			payload: x,
		}
	}
}

func (s *state) syncDebug() {
	if s.isDebug() {
		s.debugMsgs <- debugMessage{msgType: syncDebug}
	}
}

func runDebug() chan<- debugMessage {
	f := createDebug()
	if f == nil {
		return nil
	}
	ch := make(chan debugMessage, 10)
	go func() {
		for msg := range ch {
			if f == nil {
				continue
			}
			switch msg.msgType {
			case writeDebug:
				if bs, err := json.Marshal(msg.payload); err != nil {
					log.Printf("Error while writing to debug file: %v", err)
				} else {
					f.Write(bs)
					f.WriteString("\n")
				}
			case syncDebug:
				f.Sync()
			}
		}
		f.Close()
	}()
	return ch
}

func createDebug() *os.File {
	if !*debug && *debugFilename == "" {
		return nil
	}
	if *debugFilename == "" {
		datetime := time.Now().Format("2006-01-02T15:04:05")
		*debugFilename = fmt.Sprintf("log_%s.jsonl", datetime)
	}
	debugFile, err := os.Create(*debugFilename)
	if err != nil {
		log.Printf("Error opening debug file: %v", err)
		return nil
	}
	return debugFile
}
