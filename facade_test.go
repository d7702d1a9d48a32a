package sftp

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These exercise the Component I facade helpers (Get/Put/Append/Exists/
// UploadDir/DownloadDir) against the same in-process test server harness
// the rest of the client tests use (testClient, from testharness_test.go),
// so Put/Get also exercise the Component F adaptive upload/download engine
// underneath.

func TestFacadeGetPutRoundTrip(t *testing.T) {
	client, cmd := testClient(t, readWrite_, nodelay_)
	defer cmd.Wait()
	defer client.Close()

	dir, err := os.MkdirTemp("", "sftptest-facade-getput")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	remote := path.Join(dir, "roundtrip")
	want := []byte("the quick brown fox jumps over the lazy dog")

	require.NoError(t, client.Put(remote, want))

	got, err := client.Get(remote)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFacadeGetPutEmptyFile(t *testing.T) {
	client, cmd := testClient(t, readWrite_, nodelay_)
	defer cmd.Wait()
	defer client.Close()

	dir, err := os.MkdirTemp("", "sftptest-facade-empty")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	remote := path.Join(dir, "empty")
	require.NoError(t, client.Put(remote, nil))

	attrs, err := client.Stat(remote)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), attrs.Size)

	got, err := client.Get(remote)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFacadeAppendGrowsFileAndSize(t *testing.T) {
	client, cmd := testClient(t, readWrite_, nodelay_)
	defer cmd.Wait()
	defer client.Close()

	dir, err := os.MkdirTemp("", "sftptest-facade-append")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	remote := path.Join(dir, "appended")
	require.NoError(t, client.Put(remote, []byte("hello ")))
	require.NoError(t, client.Append(remote, []byte("world")))

	attrs, err := client.Stat(remote)
	require.NoError(t, err)
	assert.Equal(t, uint64(len("hello world")), attrs.Size)

	got, err := client.Get(remote)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestFacadeAppendToMissingFileActsLikeCreate(t *testing.T) {
	client, cmd := testClient(t, readWrite_, nodelay_)
	defer cmd.Wait()
	defer client.Close()

	dir, err := os.MkdirTemp("", "sftptest-facade-append-missing")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	remote := path.Join(dir, "new")
	require.NoError(t, client.Append(remote, []byte("first bytes")))

	attrs, err := client.Stat(remote)
	require.NoError(t, err)
	assert.Equal(t, uint64(len("first bytes")), attrs.Size)
}

func TestFacadeExists(t *testing.T) {
	client, cmd := testClient(t, readWrite_, nodelay_)
	defer cmd.Wait()
	defer client.Close()

	dir, err := os.MkdirTemp("", "sftptest-facade-exists")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	remote := path.Join(dir, "present")
	require.NoError(t, client.Put(remote, []byte("x")))

	ok, err := client.Exists(remote)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.Exists(path.Join(dir, "absent"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFacadeDeleteRemovesFile(t *testing.T) {
	client, cmd := testClient(t, readWrite_, nodelay_)
	defer cmd.Wait()
	defer client.Close()

	dir, err := os.MkdirTemp("", "sftptest-facade-delete")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	remote := path.Join(dir, "gone-soon")
	require.NoError(t, client.Put(remote, []byte("bye")))
	require.NoError(t, client.Delete(remote))

	ok, err := client.Exists(remote)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFacadeUploadDirThenDownloadDirRoundTrips(t *testing.T) {
	client, cmd := testClient(t, readWrite_, nodelay_)
	defer cmd.Wait()
	defer client.Close()

	localSrc, err := os.MkdirTemp("", "sftptest-facade-upload-src")
	require.NoError(t, err)
	defer os.RemoveAll(localSrc)

	require.NoError(t, os.WriteFile(path.Join(localSrc, "a.txt"), []byte("file a"), 0o644))
	require.NoError(t, os.Mkdir(path.Join(localSrc, "sub"), 0o755))
	require.NoError(t, os.WriteFile(path.Join(localSrc, "sub", "b.txt"), []byte("file b"), 0o644))

	remoteDir, err := os.MkdirTemp("", "sftptest-facade-upload-dst")
	require.NoError(t, err)
	defer os.RemoveAll(remoteDir)
	remoteTarget := path.Join(remoteDir, "tree")

	require.NoError(t, client.UploadDir(localSrc, remoteTarget, nil))

	localDst, err := os.MkdirTemp("", "sftptest-facade-download-dst")
	require.NoError(t, err)
	defer os.RemoveAll(localDst)

	require.NoError(t, client.DownloadDir(remoteTarget, localDst, nil))

	gotA, err := os.ReadFile(path.Join(localDst, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "file a", string(gotA))

	gotB, err := os.ReadFile(path.Join(localDst, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "file b", string(gotB))
}

func TestFacadeUploadDirFilterSkipsEntry(t *testing.T) {
	client, cmd := testClient(t, readWrite_, nodelay_)
	defer cmd.Wait()
	defer client.Close()

	localSrc, err := os.MkdirTemp("", "sftptest-facade-upload-filter")
	require.NoError(t, err)
	defer os.RemoveAll(localSrc)

	require.NoError(t, os.WriteFile(path.Join(localSrc, "keep.txt"), []byte("keep"), 0o644))
	require.NoError(t, os.WriteFile(path.Join(localSrc, "skip.txt"), []byte("skip"), 0o644))

	remoteDir, err := os.MkdirTemp("", "sftptest-facade-upload-filter-dst")
	require.NoError(t, err)
	defer os.RemoveAll(remoteDir)
	remoteTarget := path.Join(remoteDir, "tree")

	filter := func(name string, _ *FileStat) (allow, stop bool) {
		return name != "skip.txt", false
	}
	require.NoError(t, client.UploadDir(localSrc, remoteTarget, filter))

	ok, err := client.Exists(path.Join(remoteTarget, "keep.txt"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.Exists(path.Join(remoteTarget, "skip.txt"))
	require.NoError(t, err)
	assert.False(t, ok)
}
