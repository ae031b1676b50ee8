package backend

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// MemoryBackend is an in-process emulation of the storage cluster's
// management API. It backs the "memory" backend mode used for development
// and is the test double for every component that consumes Client.
type MemoryBackend struct {
	mu      sync.Mutex
	cluster string
	tenant  string
	bucket  string

	targetName string
	metadata   map[string]string
	objects    map[string]bool
	luns       map[int]*lunRecord
	snapshots  map[int]map[string]bool
	failures   []plannedFailure
}

// lunRecord is the emulated backend-side state of one exported LUN.
type lunRecord struct {
	objectPath string
	sizeMB     int64
	blockSize  int64
	chunkSize  int64
}

type plannedFailure struct {
	method string
	prefix string
}

// NewMemoryBackend creates a MemoryBackend hosting the given
// cluster/tenant/bucket path.
func NewMemoryBackend(bucketPath string) (*MemoryBackend, error) {
	parts := strings.Split(bucketPath, "/")
	if len(parts) != 3 {
		return nil, fmt.Errorf("bucket path must be cluster/tenant/bucket, got %q", bucketPath)
	}
	return &MemoryBackend{
		cluster:    parts[0],
		tenant:     parts[1],
		bucket:     parts[2],
		targetName: "iqn.2005-07.com.edgelun:" + parts[2],
		metadata:   make(map[string]string),
		objects:    make(map[string]bool),
		luns:       make(map[int]*lunRecord),
		snapshots:  make(map[int]map[string]bool),
	}, nil
}

// SetTargetName overrides the iSCSI target name reported by the status endpoint.
func (b *MemoryBackend) SetTargetName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.targetName = name
}

// FailNext arranges for the next request matching method and path prefix to
// fail with a transport-style error. Failures are consumed in order.
func (b *MemoryBackend) FailNext(method, pathPrefix string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, plannedFailure{method: method, prefix: pathPrefix})
}

// URL returns the pseudo-URL of the emulated management API.
func (b *MemoryBackend) URL() string {
	return fmt.Sprintf("memory://%s/%s/%s/", b.cluster, b.tenant, b.bucket)
}

// Get implements Client.
func (b *MemoryBackend) Get(ctx context.Context, path string) (Response, error) {
	return b.dispatch("GET", path, nil)
}

// Put implements Client.
func (b *MemoryBackend) Put(ctx context.Context, path string, body Params) (Response, error) {
	return b.dispatch("PUT", path, body)
}

// Post implements Client.
func (b *MemoryBackend) Post(ctx context.Context, path string, body Params) (Response, error) {
	return b.dispatch("POST", path, body)
}

// Delete implements Client.
func (b *MemoryBackend) Delete(ctx context.Context, path string, body Params) (Response, error) {
	return b.dispatch("DELETE", path, body)
}

func (b *MemoryBackend) dispatch(method, path string, body Params) (Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path = strings.TrimPrefix(path, "/")

	for i, f := range b.failures {
		if f.method == method && strings.HasPrefix(path, f.prefix) {
			b.failures = append(b.failures[:i], b.failures[i+1:]...)
			return nil, &Error{Method: method, Path: path, Message: "injected failure"}
		}
	}

	bucketURL := b.bucketURL()
	switch {
	case path == "sysconfig/iscsi/status":
		return b.iscsiStatus(method, path)
	case path == bucketURL:
		return b.bucketMetadata(method, path, body)
	case path == "iscsi":
		return b.createLUN(method, path, body)
	case strings.HasPrefix(path, "iscsi/"):
		return b.lunByNumber(method, path, body)
	case strings.HasPrefix(path, bucketURL+"/snapviews/"):
		return b.snapview(method, strings.TrimPrefix(path, bucketURL+"/snapviews/"), path, body)
	case strings.HasPrefix(path, bucketURL+"/objects/"):
		return b.objectOp(method, strings.TrimPrefix(path, bucketURL+"/objects/"), path, body)
	}
	return nil, &Error{Method: method, Path: path, StatusCode: 404, Message: "no such endpoint"}
}

func (b *MemoryBackend) bucketURL() string {
	return "clusters/" + b.cluster + "/tenants/" + b.tenant + "/buckets/" + b.bucket
}

func (b *MemoryBackend) bucketPath() string {
	return b.cluster + "/" + b.tenant + "/" + b.bucket
}

func (b *MemoryBackend) iscsiStatus(method, path string) (Response, error) {
	if method != "GET" {
		return nil, &Error{Method: method, Path: path, StatusCode: 405, Message: "method not allowed"}
	}
	// First line, third whitespace-delimited token carries the target IQN,
	// matching the cluster's status output format.
	return Response{"value": "iSCSI Target " + b.targetName + " up\nsessions 0"}, nil
}

func (b *MemoryBackend) bucketMetadata(method, path string, body Params) (Response, error) {
	switch method {
	case "GET":
		meta := make(map[string]any, len(b.metadata))
		for k, v := range b.metadata {
			meta[k] = v
		}
		return Response{"bucketMetadata": meta}, nil
	case "PUT":
		opts, _ := body["optionsObject"].(map[string]any)
		if opts == nil {
			return nil, &Error{Method: method, Path: path, StatusCode: 400, Message: "missing optionsObject"}
		}
		if rev, ok := opts["X-Name-Map-Rev"]; ok {
			newRev, err := strconv.ParseInt(asString(rev), 10, 64)
			if err != nil {
				return nil, &Error{Method: method, Path: path, StatusCode: 400, Message: "bad revision"}
			}
			var current int64
			if cur, ok := b.metadata["X-Name-Map-Rev"]; ok {
				current, _ = strconv.ParseInt(cur, 10, 64)
			}
			if newRev != current+1 {
				return nil, &Error{Method: method, Path: path, StatusCode: 412, Message: "revision mismatch"}
			}
		}
		for k, v := range opts {
			b.metadata[k] = asString(v)
		}
		return Response{}, nil
	}
	return nil, &Error{Method: method, Path: path, StatusCode: 405, Message: "method not allowed"}
}

func (b *MemoryBackend) createLUN(method, path string, body Params) (Response, error) {
	if method != "POST" {
		return nil, &Error{Method: method, Path: path, StatusCode: 405, Message: "method not allowed"}
	}
	number := int(asInt(body["number"]))
	objectPath := asString(body["objectPath"])
	if number < 1 || number > 255 {
		return nil, &Error{Method: method, Path: path, StatusCode: 400, Message: "LUN number out of range"}
	}
	if !strings.HasPrefix(objectPath, b.bucketPath()+"/") {
		return nil, &Error{Method: method, Path: path, StatusCode: 404, Message: "no such bucket"}
	}
	if _, exists := b.luns[number]; exists {
		return nil, &Error{Method: method, Path: path, StatusCode: 409, Message: "LUN already exists"}
	}
	b.luns[number] = &lunRecord{
		objectPath: objectPath,
		sizeMB:     asInt(body["volSizeMB"]),
		blockSize:  asInt(body["blockSize"]),
		chunkSize:  asInt(body["chunkSize"]),
	}
	b.objects[strconv.Itoa(number)] = true
	return Response{}, nil
}

func (b *MemoryBackend) lunByNumber(method, path string, body Params) (Response, error) {
	rest := strings.TrimPrefix(path, "iscsi/")
	parts := strings.Split(rest, "/")
	number, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, &Error{Method: method, Path: path, StatusCode: 400, Message: "bad LUN number"}
	}
	lun, exists := b.luns[number]

	switch {
	case method == "DELETE" && len(parts) == 1:
		if !exists {
			return nil, &Error{Method: method, Path: path, StatusCode: 404, Message: "no such LUN"}
		}
		delete(b.luns, number)
		delete(b.objects, strconv.Itoa(number))
		delete(b.snapshots, number)
		return Response{}, nil
	case method == "POST" && len(parts) == 2 && parts[1] == "resize":
		if !exists {
			return nil, &Error{Method: method, Path: path, StatusCode: 404, Message: "no such LUN"}
		}
		lun.sizeMB = asInt(body["newSizeMB"])
		return Response{}, nil
	}
	return nil, &Error{Method: method, Path: path, StatusCode: 405, Message: "method not allowed"}
}

// snapview handles the snapshot sub-resources of a LUN's source object:
//
//	POST   snapviews/{n}.snapview                    create snapshot
//	POST   snapviews/{n}.snapview/snapshots/{name}   materialize into new object
//	DELETE snapviews/{n}.snapview/snapshots/{name}   delete snapshot
func (b *MemoryBackend) snapview(method, rest, path string, body Params) (Response, error) {
	parts := strings.Split(rest, "/")
	if !strings.HasSuffix(parts[0], ".snapview") {
		return nil, &Error{Method: method, Path: path, StatusCode: 404, Message: "no such snapview"}
	}
	number, err := strconv.Atoi(strings.TrimSuffix(parts[0], ".snapview"))
	if err != nil {
		return nil, &Error{Method: method, Path: path, StatusCode: 400, Message: "bad LUN number"}
	}

	switch {
	case method == "POST" && len(parts) == 1:
		if _, exists := b.luns[number]; !exists {
			return nil, &Error{Method: method, Path: path, StatusCode: 404, Message: "no such LUN"}
		}
		name := asString(body["ss_name"])
		if name == "" {
			return nil, &Error{Method: method, Path: path, StatusCode: 400, Message: "missing ss_name"}
		}
		if b.snapshots[number][name] {
			return nil, &Error{Method: method, Path: path, StatusCode: 409, Message: "snapshot already exists"}
		}
		if b.snapshots[number] == nil {
			b.snapshots[number] = make(map[string]bool)
		}
		b.snapshots[number][name] = true
		return Response{}, nil

	case len(parts) == 3 && parts[1] == "snapshots":
		name := parts[2]
		if !b.snapshots[number][name] {
			return nil, &Error{Method: method, Path: path, StatusCode: 404, Message: "no such snapshot"}
		}
		switch method {
		case "POST":
			newObject := asString(body["ss_object"])
			if newObject == "" {
				return nil, &Error{Method: method, Path: path, StatusCode: 400, Message: "missing ss_object"}
			}
			b.objects[newObject] = true
			return Response{}, nil
		case "DELETE":
			delete(b.snapshots[number], name)
			return Response{}, nil
		}
	}
	return nil, &Error{Method: method, Path: path, StatusCode: 405, Message: "method not allowed"}
}

// objectOp handles object-level operations; the only one the driver uses is
// POST objects/{n}/clone.
func (b *MemoryBackend) objectOp(method, rest, path string, body Params) (Response, error) {
	parts := strings.Split(rest, "/")
	if method != "POST" || len(parts) != 2 || parts[1] != "clone" {
		return nil, &Error{Method: method, Path: path, StatusCode: 405, Message: "method not allowed"}
	}
	if !b.objects[parts[0]] {
		return nil, &Error{Method: method, Path: path, StatusCode: 404, Message: "no such object"}
	}
	newObject := asString(body["object_name"])
	if newObject == "" {
		return nil, &Error{Method: method, Path: path, StatusCode: 400, Message: "missing object_name"}
	}
	b.objects[newObject] = true
	return Response{}, nil
}

// ---- test inspection helpers ----

// HasLUN reports whether a LUN with the given number exists.
func (b *MemoryBackend) HasLUN(number int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.luns[number]
	return ok
}

// LUNSizeMB returns the size of the given LUN, or 0 if it does not exist.
func (b *MemoryBackend) LUNSizeMB(number int) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if lun, ok := b.luns[number]; ok {
		return lun.sizeMB
	}
	return 0
}

// HasSnapshot reports whether the given LUN has a snapshot with the given name.
func (b *MemoryBackend) HasSnapshot(number int, name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshots[number][name]
}

// HasObject reports whether an object with the given name exists in the bucket.
func (b *MemoryBackend) HasObject(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.objects[name]
}

// Metadata returns the bucket metadata value stored under key.
func (b *MemoryBackend) Metadata(key string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metadata[key]
}

// asString coerces a JSON value to a string.
func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// asInt coerces a JSON value to an int64. Numbers decoded from JSON arrive
// as float64; in-process callers pass native integers.
func asInt(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
