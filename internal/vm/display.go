package vm

import "sync"

// Display is the 64x32 monochrome pixel buffer. Each entry is 0 or 1,
// row-major. It is written by the executing VM and read by the renderer,
// so every access goes through the lock.
type Display struct {
	mu     sync.RWMutex
	pixels [ScreenSize]uint8
}

func (d *Display) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.pixels {
		d.pixels[i] = 0
	}
}

// Snapshot copies the buffer into dst and returns the number of bytes copied.
func (d *Display) Snapshot(dst []byte) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return copy(dst, d.pixels[:])
}

// Pixel returns the value at column x, row y. Coordinates must be
// non-negative and wrap like sprite drawing does.
func (d *Display) Pixel(x, y int) uint8 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.pixels[screenAddr(x, y)]
}

// drawSprite XORs an 8-pixel-wide sprite at (x0, y0). It reports whether
// any lit pixel was turned off.
func (d *Display) drawSprite(x0, y0 uint8, rows []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	collision := false
	for row, bits := range rows {
		const width = 8
		for col := 0; col < width; col++ {
			pixel := (bits >> (7 - col)) & 0x01
			if pixel == 0 {
				continue
			}

			addr := screenAddr(int(x0)+col, int(y0)+row)
			if d.pixels[addr] != 0 {
				collision = true
			}
			d.pixels[addr] ^= pixel
		}
	}

	return collision
}

// screenAddr computes the linear index for non-negative coordinates,
// wrapping modulo the buffer size so a sprite running off the right edge
// continues on the next row.
func screenAddr(x, y int) int {
	return (x + y*ScreenWidth) % ScreenSize
}
