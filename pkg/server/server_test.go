package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"odrive/pkg/blob"
	"odrive/pkg/directory"
	"odrive/pkg/identity"
	"odrive/pkg/protocol"
	"odrive/pkg/types"
)

const (
	aliceDN = "cn=alice,ou=people"
	bobDN   = "cn=bob,ou=people"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	resolver := identity.NewStaticResolver()
	resolver.Register(identity.Record{
		DistinguishedName: aliceDN,
		DisplayName:       "Alice",
		Attributes:        types.UserAttributes{Clearance: []string{"u", "c", "s"}, Country: "USA"},
	})
	resolver.Register(identity.Record{
		DistinguishedName: bobDN,
		DisplayName:       "Bob",
		Attributes:        types.UserAttributes{Clearance: []string{"u"}, Country: "USA"},
	})

	svc := directory.NewService(blob.NewMemStore(), zap.NewNop())
	srv := New(svc, resolver, zap.NewNop())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, dn string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	if dn != "" {
		req.Header.Set(IdentityHeader, dn)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func createObject(t *testing.T, ts *httptest.Server, dn string, req protocol.CreateObjectRequest) protocol.ObjectResponse {
	t.Helper()
	resp, body := doJSON(t, ts, http.MethodPost, "/objects", dn, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %s", body)
	var obj protocol.ObjectResponse
	require.NoError(t, json.Unmarshal(body, &obj))
	return obj
}

func unclassifiedACM() json.RawMessage {
	return json.RawMessage(`{"version":"2.1.0","classif":"U","banner":"UNCLASSIFIED","portion":"U"}`)
}

func TestServer_RequiresIdentity(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, ts, http.MethodGet, "/objects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, ts, http.MethodGet, "/objects", "cn=stranger", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_CreateAndFetch(t *testing.T) {
	ts := newTestServer(t)

	obj := createObject(t, ts, aliceDN, protocol.CreateObjectRequest{
		TypeName:    string(types.TypeDocument),
		Name:        "hello.txt",
		ContentType: "text/plain",
		Content:     []byte("hello"),
		ACM:         unclassifiedACM(),
	})
	assert.NotEmpty(t, obj.ID)
	assert.NotEmpty(t, obj.ChangeToken)

	resp, body := doJSON(t, ts, http.MethodGet, "/objects/"+obj.ID, aliceDN, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got protocol.ObjectResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "hello.txt", got.Name)

	resp, content := doJSON(t, ts, http.MethodGet, "/objects/"+obj.ID+"/stream", aliceDN, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Equal(t, "hello", string(content))
}

func TestServer_MalformedACMIs400(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, ts, http.MethodPost, "/objects", aliceDN, protocol.CreateObjectRequest{
		TypeName: string(types.TypeDocument),
		Name:     "bad.txt",
		ACM:      json.RawMessage(`{"version":"2.1.0"}`),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_StaleTokenIs428(t *testing.T) {
	ts := newTestServer(t)

	obj := createObject(t, ts, aliceDN, protocol.CreateObjectRequest{
		TypeName: string(types.TypeDocument),
		Name:     "draft.txt",
		ACM:      unclassifiedACM(),
	})

	name := "renamed.txt"
	resp, _ := doJSON(t, ts, http.MethodPost, "/objects/"+obj.ID, aliceDN, protocol.UpdateObjectRequest{
		ChangeToken: obj.ChangeToken,
		Name:        &name,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Replay with the spent token.
	resp, body := doJSON(t, ts, http.MethodPost, "/objects/"+obj.ID, aliceDN, protocol.UpdateObjectRequest{
		ChangeToken: obj.ChangeToken,
		Name:        &name,
	})
	assert.Equal(t, http.StatusPreconditionRequired, resp.StatusCode)
	var errResp protocol.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.NotEmpty(t, errResp.Error)
}

func TestServer_MoveCycleIs409(t *testing.T) {
	ts := newTestServer(t)

	f1 := createObject(t, ts, aliceDN, protocol.CreateObjectRequest{
		TypeName: string(types.TypeFolder), Name: "f1", ACM: unclassifiedACM(),
	})
	f2 := createObject(t, ts, aliceDN, protocol.CreateObjectRequest{
		TypeName: string(types.TypeFolder), Name: "f2", ParentID: f1.ID, ACM: unclassifiedACM(),
	})

	resp, _ := doJSON(t, ts, http.MethodPost, "/objects/"+f1.ID+"/move", aliceDN, protocol.MoveObjectRequest{
		ChangeToken: f1.ChangeToken,
		NewParentID: f2.ID,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_ForbiddenAndHidden(t *testing.T) {
	ts := newTestServer(t)

	// Bob has no clearance for secret material even with a full grant.
	secret := createObject(t, ts, aliceDN, protocol.CreateObjectRequest{
		TypeName: string(types.TypeDocument),
		Name:     "secret.txt",
		ACM:      json.RawMessage(`{"version":"2.1.0","classif":"S","banner":"SECRET","portion":"S"}`),
	})

	flags := types.AllFlags()
	resp, _ := doJSON(t, ts, http.MethodPost, "/objects/"+secret.ID+"/share", aliceDN, protocol.ShareRequest{
		Grantee: bobDN, Flags: &flags,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, ts, http.MethodGet, "/objects/"+secret.ID, bobDN, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// An unshared unclassified document is forbidden, not hidden.
	plain := createObject(t, ts, aliceDN, protocol.CreateObjectRequest{
		TypeName: string(types.TypeDocument), Name: "plain.txt", ACM: unclassifiedACM(),
	})
	resp, _ = doJSON(t, ts, http.MethodGet, "/objects/"+plain.ID, bobDN, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, ts, http.MethodGet, "/objects/no-such-id", aliceDN, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ShareDefaultsToReadOnly(t *testing.T) {
	ts := newTestServer(t)

	doc := createObject(t, ts, aliceDN, protocol.CreateObjectRequest{
		TypeName: string(types.TypeDocument), Name: "doc.txt", ACM: unclassifiedACM(),
	})

	// No flags block: least privilege.
	resp, body := doJSON(t, ts, http.MethodPost, "/objects/"+doc.ID+"/share", aliceDN, protocol.ShareRequest{
		Grantee: bobDN,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var grant protocol.GrantResponse
	require.NoError(t, json.Unmarshal(body, &grant))
	assert.True(t, grant.Flags.Read)
	assert.False(t, grant.Flags.Update)
	assert.False(t, grant.Flags.Share)

	// Bob reads but cannot trash.
	resp, _ = doJSON(t, ts, http.MethodGet, "/objects/"+doc.ID, bobDN, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doJSON(t, ts, http.MethodPost, "/objects/"+doc.ID+"/trash", bobDN, protocol.ChangeTokenRequest{
		ChangeToken: doc.ChangeToken,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_TrashRestoreAndViews(t *testing.T) {
	ts := newTestServer(t)

	folder := createObject(t, ts, aliceDN, protocol.CreateObjectRequest{
		TypeName: string(types.TypeFolder), Name: "stuff", ACM: unclassifiedACM(),
	})
	doc := createObject(t, ts, aliceDN, protocol.CreateObjectRequest{
		TypeName: string(types.TypeDocument), Name: "inside.txt", ParentID: folder.ID, ACM: unclassifiedACM(),
	})

	resp, body := doJSON(t, ts, http.MethodPost, "/objects/"+folder.ID+"/trash", aliceDN, protocol.ChangeTokenRequest{
		ChangeToken: folder.ChangeToken,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var trashed protocol.ObjectResponse
	require.NoError(t, json.Unmarshal(body, &trashed))
	assert.True(t, trashed.Deleted)

	// The child is hidden through the trashed ancestor.
	resp, _ = doJSON(t, ts, http.MethodGet, "/objects/"+doc.ID, aliceDN, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = doJSON(t, ts, http.MethodGet, "/trashed", aliceDN, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rs protocol.ObjectResultset
	require.NoError(t, json.Unmarshal(body, &rs))
	require.Len(t, rs.Objects, 1)
	assert.Equal(t, folder.ID, rs.Objects[0].ID)

	resp, _ = doJSON(t, ts, http.MethodPost, "/objects/"+folder.ID+"/restore", aliceDN, protocol.ChangeTokenRequest{
		ChangeToken: trashed.ChangeToken,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, ts, http.MethodGet, "/objects/"+doc.ID, aliceDN, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_SharedViewsAndRevoke(t *testing.T) {
	ts := newTestServer(t)

	doc := createObject(t, ts, aliceDN, protocol.CreateObjectRequest{
		TypeName: string(types.TypeDocument), Name: "shared.txt", ACM: unclassifiedACM(),
	})
	resp, _ := doJSON(t, ts, http.MethodPost, "/objects/"+doc.ID+"/share", aliceDN, protocol.ShareRequest{
		Grantee: bobDN,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, ts, http.MethodGet, "/shares/to-me", bobDN, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rs protocol.ObjectResultset
	require.NoError(t, json.Unmarshal(body, &rs))
	require.Len(t, rs.Objects, 1)
	assert.Equal(t, doc.ID, rs.Objects[0].ID)

	resp, body = doJSON(t, ts, http.MethodGet, "/shares/by-me", aliceDN, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rs = protocol.ObjectResultset{}
	require.NoError(t, json.Unmarshal(body, &rs))
	assert.Len(t, rs.Objects, 1)

	resp, _ = doJSON(t, ts, http.MethodDelete,
		fmt.Sprintf("/objects/%s/share/%s", doc.ID, bobDN), aliceDN, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, ts, http.MethodGet, "/objects/"+doc.ID, bobDN, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_ListPaging(t *testing.T) {
	ts := newTestServer(t)

	folder := createObject(t, ts, aliceDN, protocol.CreateObjectRequest{
		TypeName: string(types.TypeFolder), Name: "many", ACM: unclassifiedACM(),
	})
	for i := 0; i < 5; i++ {
		createObject(t, ts, aliceDN, protocol.CreateObjectRequest{
			TypeName: string(types.TypeDocument),
			Name:     fmt.Sprintf("doc-%d.txt", i),
			ParentID: folder.ID,
			ACM:      unclassifiedACM(),
		})
	}

	resp, body := doJSON(t, ts, http.MethodGet,
		"/objects?parentId="+folder.ID+"&pageNumber=2&pageSize=2", aliceDN, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rs protocol.ObjectResultset
	require.NoError(t, json.Unmarshal(body, &rs))
	assert.Equal(t, 5, rs.TotalRows)
	assert.Equal(t, 2, rs.PageNumber)
	assert.Equal(t, 2, rs.PageSize)
	assert.Equal(t, 3, rs.PageCount)
	assert.Len(t, rs.Objects, 2)
}
