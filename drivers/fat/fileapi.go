package fat

import (
	"os"
	"syscall"
	"time"

	gofat "github.com/dargueta/gofat"
	"github.com/dargueta/gofat/drivers/common/basedriver"
)

// Driver wires a mounted Volume into basedriver.DriverImplementation, giving it the
// rest of a POSIX-like surface (path resolution, open-mode enforcement, symlink
// no-ops since FAT has none) for free. It's the thing basedriver.NewDriver takes.
type Driver struct {
	volume *Volume
	dm     *directoryManager
	root   *OFile
}

// NewDriver wraps an already-mounted Volume as a basedriver.DriverImplementation.
func NewDriver(volume *Volume) *Driver {
	dm := newDirectoryManager(volume)
	driver := &Driver{volume: volume, dm: dm}
	driver.root = newOFile(volume, dm, nil, volume.RootDirent())
	return driver
}

// asOFile recovers the concrete *OFile backing a basedriver.ObjectHandle. Every
// handle basedriver passes back to us originated from GetRootDirectory, GetObject, or
// CreateObject below, so this assertion can never fail in practice.
func asOFile(handle basedriver.ObjectHandle) (*OFile, *gofat.DriverError) {
	of, ok := handle.(*OFile)
	if !ok {
		return nil, gofat.NewDriverErrorWithMessage(syscall.EINVAL, "object handle did not originate from the fat driver")
	}
	return of, nil
}

// CreateObject creates a new file or directory named name inside parent.
func (d *Driver) CreateObject(name string, parent basedriver.ObjectHandle, perm os.FileMode) (basedriver.ObjectHandle, *gofat.DriverError) {
	if d.volume.readOnly {
		return nil, gofat.ErrReadOnlyFileSystem
	}

	parentFile, err := asOFile(parent)
	if err != nil {
		return nil, err
	}

	attrs := uint8(0)
	if perm.IsDir() {
		attrs = AttrDirectory
	}
	if perm&0o200 == 0 {
		attrs |= AttrReadOnly
	}

	entry, ierr := d.dm.insertEntry(parentFile.dirent, name, attrs, 0, 0)
	if ierr != nil {
		return nil, wrapDirManageErr(ierr)
	}

	if perm.IsDir() {
		if err := d.initializeDirectory(entry, parentFile.dirent); err != nil {
			return nil, err
		}
	}

	return newOFile(d.volume, d.dm, parentFile.dirent, entry), nil
}

// initializeDirectory allocates the new directory's first cluster and populates it
// with the "." and ".." entries every FAT directory (other than the root) must carry.
func (d *Driver) initializeDirectory(entry *Dirent, parent *Dirent) *gofat.DriverError {
	chain, err := d.volume.fat.AllocateChain(1)
	if err != nil {
		return wrapDirManageErr(err)
	}
	cluster := chain[0]

	clusterBuf := make([]byte, d.volume.boot.BytesPerCluster)

	dotName, dotExt := toRawShortName(".")
	dotDotName, dotDotExt := toRawShortName("..")
	now := time.Now()
	copy(clusterBuf[0:DirentSize], packShortDirent(dotName, dotExt, AttrDirectory, cluster, 0, now))
	copy(clusterBuf[DirentSize:2*DirentSize], packShortDirent(dotDotName, dotDotExt, AttrDirectory, parent.FirstCluster, 0, now))

	if err := d.volume.fatDriver.writeCluster(cluster, clusterBuf); err != nil {
		return wrapDirManageErr(err)
	}

	return wrapDirManageErr(d.dm.updateEntry(parent, entry, uint8(entry.AttributeFlags), cluster, 0))
}

// GetObject returns a handle to the entry named name inside parent.
func (d *Driver) GetObject(name string, parent basedriver.ObjectHandle) (basedriver.ObjectHandle, *gofat.DriverError) {
	parentFile, err := asOFile(parent)
	if err != nil {
		return nil, err
	}

	entry, lerr := d.dm.lookup(parentFile.dirent, name)
	if lerr != nil {
		return nil, wrapDirManageErr(lerr)
	}
	return newOFile(d.volume, d.dm, parentFile.dirent, entry), nil
}

// GetRootDirectory returns a handle to the volume's root directory.
func (d *Driver) GetRootDirectory() basedriver.ObjectHandle {
	return d.root
}

// FSStat returns aggregate statistics about the mounted volume.
func (d *Driver) FSStat() gofat.FSStat {
	stat, err := d.volume.FSStat()
	if err != nil {
		return gofat.FSStat{}
	}
	return stat
}

// GetFSFeatures describes the capabilities of the FAT family: directories and
// timestamps but no symlinks, hard links, or Unix permission bits.
func (d *Driver) GetFSFeatures() gofat.FSFeatures {
	return fatFeatures{volume: d.volume}
}

func wrapDirManageErr(err error) *gofat.DriverError {
	if err == nil {
		return nil
	}
	if driverErr, ok := err.(*gofat.DriverError); ok {
		return driverErr
	}
	return gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
}
