package vm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kapitanov/chip8/internal/keymap"
)

type opcode uint16

func (op opcode) x() uint8 {
	return uint8(op>>8) & 0x0F
}

func (op opcode) y() uint8 {
	return uint8(op>>4) & 0x0F
}

func (op opcode) n() uint8 {
	return uint8(op) & 0x0F
}

func (op opcode) nn() uint8 {
	return uint8(op)
}

func (op opcode) nnn() uint16 {
	return uint16(op) & AddrMask
}

func (vm *VM) executeOpcode(ctx context.Context, pc, raw uint16) error {
	op := opcode(raw)
	instr, ok := decode(op)
	if !ok {
		return &UnsupportedInstructionError{Opcode: raw, PC: pc}
	}

	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		slog.Debug(
			"exec",
			"pc", fmt.Sprintf("0x%04x", pc),
			"opcode", fmt.Sprintf("0x%04x", raw),
			"instr", instr.Name(op),
		)
	}

	return instr.Execute(ctx, vm, op)
}

// Disassemble returns the mnemonic for a raw opcode.
func Disassemble(raw uint16) string {
	instr, ok := decode(opcode(raw))
	if !ok {
		return fmt.Sprintf("unknown 0x%04X", raw)
	}
	return instr.Name(opcode(raw))
}

type instruction struct {
	Name    func(op opcode) string
	Execute func(ctx context.Context, vm *VM, op opcode) error
}

func decode(op opcode) (instruction, bool) {
	switch op & 0xF000 {
	case 0x0000:
		switch op {
		case 0x00E0:
			// 00E0 - Clear screen
			return clsInstruction, true

		case 0x00EE:
			// 00EE - Return from subroutine
			return rtsInstruction, true
		}

	case 0x1000:
		// 1NNN - Jumps to address NNN
		return jmpInstruction, true

	case 0x2000:
		// 2NNN - Calls subroutine at NNN
		return jsrInstruction, true

	case 0x3000:
		// 3XNN - Skips the next instruction if VX equals NN
		return skeq1Instruction, true

	case 0x4000:
		// 4XNN - Skips the next instruction if VX does not equal NN
		return skne1Instruction, true

	case 0x5000:
		// 5XY0 - Skips the next instruction if VX equals VY
		if op.n() == 0 {
			return skeq2Instruction, true
		}

	case 0x6000:
		// 6XNN - Sets VX to NN
		return mov1Instruction, true

	case 0x7000:
		// 7XNN - Adds NN to VX
		return add1Instruction, true

	case 0x8000:
		// 8XY_
		switch op.n() {
		case 0x0:
			// 8XY0 - Sets VX to the value of VY
			return mov2Instruction, true

		case 0x1:
			// 8XY1 - Sets VX to (VX OR VY)
			return orInstruction, true

		case 0x2:
			// 8XY2 - Sets VX to (VX AND VY)
			return andInstruction, true

		case 0x3:
			// 8XY3 - Sets VX to (VX XOR VY)
			return xorInstruction, true

		case 0x4:
			// 8XY4 - Adds VY to VX. VF is set to 1 when there's a carry, and to 0 when there isn't.
			return add2Instruction, true

		case 0x5:
			// 8XY5 - VY is subtracted from VX. VF is set to 0 when there's a borrow, and 1 when there isn't.
			return subInstruction, true

		case 0x6:
			// 8XY6 - Shifts VX right by one. VF is set to the value of the least significant bit of VX before the shift.
			return shrInstruction, true

		case 0x7:
			// 8XY7 - Sets VX to VY minus VX. VF is set to 0 when there's a borrow, and 1 when there isn't.
			return rsbInstruction, true

		case 0xE:
			// 8XYE - Shifts VX left by one. VF is set to the value of the most significant bit of VX before the shift.
			return shlInstruction, true
		}

	case 0x9000:
		// 9XY0 - Skips the next instruction if VX doesn't equal VY
		if op.n() == 0 {
			return skne2Instruction, true
		}

	case 0xA000:
		// ANNN - Sets I to the address NNN
		return mviInstruction, true

	case 0xB000:
		// BNNN - Jumps to the address NNN plus V0
		return jmiInstruction, true

	case 0xC000:
		// CXNN - Sets VX to a random number, masked by NN
		return randInstruction, true

	case 0xD000:
		// DXYN - Draws a sprite at coordinate (VX, VY) that has a width of 8
		// pixels and a height of N pixels.
		// Each row of 8 pixels is read as bit-coded starting from memory
		// location I; I value doesn't change after the execution of this instruction.
		// VF is set to 1 if any screen pixels are flipped from set to unset
		// when the sprite is drawn, and to 0 if that doesn't happen.
		return spriteInstruction, true

	case 0xE000:
		switch op.nn() {
		case 0x9E:
			// EX9E - Skips the next instruction if the key stored in VX is pressed
			return skprInstruction, true

		case 0xA1:
			// EXA1 - Skips the next instruction if the key stored in VX isn't pressed
			return skupInstruction, true
		}

	case 0xF000:
		switch op.nn() {
		case 0x07:
			// FX07 - Sets VX to the value of the delay timer
			return gdelayInstruction, true

		case 0x0A:
			// FX0A - Waits until the key stored in VX is pressed
			return keyInstruction, true

		case 0x15:
			// FX15 - Sets the delay timer to VX
			return sdelayInstruction, true

		case 0x18:
			// FX18 - Sets the sound timer to VX
			return ssoundInstruction, true

		case 0x1E:
			// FX1E - Adds VX to I
			return adiInstruction, true

		case 0x29:
			// FX29 - Sets I to the location of the sprite for the
			// character in VX. Characters 0-F (in hexadecimal) are
			// represented by a 4x5 font
			return fontInstruction, true

		case 0x33:
			// FX33 - Stores the Binary-coded decimal representation of VX
			// at the addresses I, I plus 1, and I plus 2
			return bcdInstruction, true

		case 0x55:
			// FX55 - Stores V0 to VX in memory starting at address I
			return strInstruction, true

		case 0x65:
			// FX65 - Reads memory starting at address I into V0...VX
			return ldrInstruction, true
		}
	}

	return instruction{}, false
}

func (vm *VM) skipIf(cond bool) {
	if cond {
		vm.pc += InstructionSize
	}
}

func (vm *VM) read(addr uint16) uint8 {
	return vm.memory[addr&AddrMask]
}

func (vm *VM) write(addr uint16, v uint8) {
	vm.memory[addr&AddrMask] = v
}

// keyPressed reports whether the host key standing for v is held down.
func (vm *VM) keyPressed(v uint8) bool {
	current := vm.keys.CurrentKey()
	return current != keymap.NoKey && current == vm.keymap.HostCode(v)
}

func regRegName(mnemonic string) func(op opcode) string {
	return func(op opcode) string {
		return fmt.Sprintf("%s v%x, v%x", mnemonic, op.x(), op.y())
	}
}

func regConstName(mnemonic string) func(op opcode) string {
	return func(op opcode) string {
		return fmt.Sprintf("%s v%x, %d", mnemonic, op.x(), op.nn())
	}
}

func addrName(mnemonic string) func(op opcode) string {
	return func(op opcode) string {
		return fmt.Sprintf("%s 0x%03x", mnemonic, op.nnn())
	}
}

func regOnlyName(mnemonic string) func(op opcode) string {
	return func(op opcode) string {
		return fmt.Sprintf("%s v%x", mnemonic, op.x())
	}
}

var (
	// 00E0	cls	Clear the screen
	clsInstruction = instruction{
		Name: func(opcode) string {
			return "cls"
		},
		Execute: func(_ context.Context, vm *VM, _ opcode) error {
			vm.display.Clear()
			return nil
		},
	}

	// 00EE	rts	return from subroutine call
	rtsInstruction = instruction{
		Name: func(opcode) string {
			return "rts"
		},
		Execute: func(_ context.Context, vm *VM, _ opcode) error {
			pc, err := vm.pop()
			if err != nil {
				return err
			}
			vm.pc = pc
			return nil
		},
	}

	// 1xxx	jmp xxx	jump to address xxx
	jmpInstruction = instruction{
		Name: addrName("jmp"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			vm.pc = op.nnn()
			return nil
		},
	}

	// 2xxx	jsr xxx	jump to subroutine at address xxx
	jsrInstruction = instruction{
		Name: addrName("jsr"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			if err := vm.push(vm.pc); err != nil {
				return err
			}
			vm.pc = op.nnn()
			return nil
		},
	}

	// 3rxx	skeq vr,xx	skip if register r = constant
	skeq1Instruction = instruction{
		Name: regConstName("skeq"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			vm.skipIf(vm.registers[op.x()] == op.nn())
			return nil
		},
	}

	// 4rxx	skne vr,xx	skip if register r <> constant
	skne1Instruction = instruction{
		Name: regConstName("skne"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			vm.skipIf(vm.registers[op.x()] != op.nn())
			return nil
		},
	}

	// 5ry0	skeq vr,vy	skip if register r = register y
	skeq2Instruction = instruction{
		Name: regRegName("skeq"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			vm.skipIf(vm.registers[op.x()] == vm.registers[op.y()])
			return nil
		},
	}

	// 6rxx	mov vr,xx	move constant to register r
	mov1Instruction = instruction{
		Name: regConstName("mov"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			vm.registers[op.x()] = op.nn()
			return nil
		},
	}

	// 7rxx	add vr,xx	add constant to register r	No carry generated
	add1Instruction = instruction{
		Name: regConstName("add"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			vm.registers[op.x()] += op.nn()
			return nil
		},
	}

	// 8ry0	mov vr,vy	move register vy into vr
	mov2Instruction = instruction{
		Name: regRegName("mov"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			vm.registers[op.x()] = vm.registers[op.y()]
			return nil
		},
	}

	// 8ry1	or rx,ry	or register vy into register vx
	orInstruction = instruction{
		Name: regRegName("or"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			vm.registers[op.x()] |= vm.registers[op.y()]
			return nil
		},
	}

	// 8ry2	and rx,ry	and register vy into register vx
	andInstruction = instruction{
		Name: regRegName("and"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			vm.registers[op.x()] &= vm.registers[op.y()]
			return nil
		},
	}

	// 8ry3	xor rx,ry	exclusive or register ry into register rx
	xorInstruction = instruction{
		Name: regRegName("xor"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			vm.registers[op.x()] ^= vm.registers[op.y()]
			return nil
		},
	}

	// 8ry4	add vr,vy	add register vy to vr,carry in vf
	add2Instruction = instruction{
		Name: regRegName("add"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			x := vm.registers[op.x()]
			y := vm.registers[op.y()]
			sum := uint16(x) + uint16(y)

			vm.registers[op.x()] = uint8(sum)
			vm.registers[0x0F] = uint8(sum >> 8)
			return nil
		},
	}

	// 8ry5	sub vr,vy	subtract register vy from vr,vf set to 1 if no borrow
	subInstruction = instruction{
		Name: regRegName("sub"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			x := vm.registers[op.x()]
			y := vm.registers[op.y()]

			vm.registers[op.x()] = x - y
			vm.registers[0x0F] = boolToFlag(x >= y)
			return nil
		},
	}

	// 8r06	shr vr	shift register vr right, bit 0 goes into register vf
	shrInstruction = instruction{
		Name: regOnlyName("shr"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			x := vm.registers[op.x()]

			vm.registers[op.x()] = x >> 1
			vm.registers[0x0F] = x & 0x01
			return nil
		},
	}

	// 8ry7	rsb vr,vy	subtract register vr from register vy, result in vr	vf set to 1 if no borrow
	rsbInstruction = instruction{
		Name: regRegName("rsb"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			x := vm.registers[op.x()]
			y := vm.registers[op.y()]

			vm.registers[op.x()] = y - x
			vm.registers[0x0F] = boolToFlag(y >= x)
			return nil
		},
	}

	// 8r0e	shl vr	shift register vr left,bit 7 goes into register vf
	shlInstruction = instruction{
		Name: regOnlyName("shl"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			x := vm.registers[op.x()]

			vm.registers[op.x()] = x << 1
			vm.registers[0x0F] = x >> 7
			return nil
		},
	}

	// 9ry0	skne rx,ry	skip if register rx <> register ry
	skne2Instruction = instruction{
		Name: regRegName("skne"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			vm.skipIf(vm.registers[op.x()] != vm.registers[op.y()])
			return nil
		},
	}

	// axxx	mvi xxx	Load index register with constant xxx
	mviInstruction = instruction{
		Name: addrName("mvi"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			vm.index = op.nnn()
			return nil
		},
	}

	// bxxx	jmi xxx	Jump to address xxx+register v0
	jmiInstruction = instruction{
		Name: addrName("jmi"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			vm.pc = (op.nnn() + uint16(vm.registers[0])) & AddrMask
			return nil
		},
	}

	// crxx	rand vr,xx	vr = random byte masked by xx
	randInstruction = instruction{
		Name: regConstName("rand"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			vm.registers[op.x()] = vm.random() & op.nn()
			return nil
		},
	}

	// drys	sprite rx,ry,s	Draw sprite at screen location rx,ry height s
	// Sprites stored in memory at location in index register, 8 bits wide.
	// Wraps around the screen buffer.
	// If when drawn, clears a pixel, vf is set to 1 otherwise it is zero.
	// All drawing is xor drawing (e.g. it toggles the screen pixels)
	spriteInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("sprite v%x, v%x, %d", op.x(), op.y(), op.n())
		},
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			height := op.n()
			rows := make([]byte, height)
			for i := range rows {
				rows[i] = vm.read(vm.index + uint16(i))
			}

			x0, y0 := vm.registers[op.x()], vm.registers[op.y()]
			vm.registers[0x0F] = 0
			collision := vm.display.drawSprite(x0, y0, rows)
			vm.registers[0x0F] = boolToFlag(collision)
			return nil
		},
	}

	// ek9e	skpr k	skip if key (register rk) pressed
	skprInstruction = instruction{
		Name: regOnlyName("skpr"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			vm.skipIf(vm.keyPressed(vm.registers[op.x()]))
			return nil
		},
	}

	// eka1	skup k	skip if key (register rk) not pressed
	skupInstruction = instruction{
		Name: regOnlyName("skup"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			vm.skipIf(!vm.keyPressed(vm.registers[op.x()]))
			return nil
		},
	}

	// fr07	gdelay vr	get delay timer into vr
	gdelayInstruction = instruction{
		Name: regOnlyName("gdelay"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			vm.registers[op.x()] = vm.timers.Delay
			return nil
		},
	}

	// fr0a	key vr	wait until the key in register vr is pressed
	keyInstruction = instruction{
		Name: regOnlyName("key"),
		Execute: func(ctx context.Context, vm *VM, op opcode) error {
			host := vm.keymap.HostCode(vm.registers[op.x()])
			return vm.keys.WaitKey(ctx, host)
		},
	}

	// fr15	sdelay vr	set the delay timer to vr
	sdelayInstruction = instruction{
		Name: regOnlyName("sdelay"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			vm.timers.Delay = vm.registers[op.x()]
			return nil
		},
	}

	// fr18	ssound vr	set the sound timer to vr
	ssoundInstruction = instruction{
		Name: regOnlyName("ssound"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			vm.timers.Sound = vm.registers[op.x()]
			return nil
		},
	}

	// fr1e	adi vr	add register vr to the index register
	adiInstruction = instruction{
		Name: regOnlyName("adi"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			vm.index = (vm.index + uint16(vm.registers[op.x()])) & AddrMask
			return nil
		},
	}

	// fr29	font vr	point I to the sprite for hexadecimal character in vr	Sprite is 5 bytes high
	fontInstruction = instruction{
		Name: regOnlyName("font"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			digit := uint16(vm.registers[op.x()])
			vm.index = (FontAddr + digit*FontGlyphSize) & AddrMask
			return nil
		},
	}

	// fr33	bcd vr	store the bcd representation of register vr at location I,I+1,I+2	Doesn't change I
	bcdInstruction = instruction{
		Name: regOnlyName("bcd"),
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			x := vm.registers[op.x()]

			vm.write(vm.index, x/100)
			vm.write(vm.index+1, (x/10)%10)
			vm.write(vm.index+2, x%10)
			return nil
		},
	}

	// fr55	str v0-vr	store registers v0-vr at location I onwards	Doesn't change I
	strInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("str v0-v%x", op.x())
		},
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			for i := uint16(0); i <= uint16(op.x()); i++ {
				vm.write(vm.index+i, vm.registers[i])
			}
			return nil
		},
	}

	// fr65	ldr v0-vr	load registers v0-vr from location I onwards	Doesn't change I
	ldrInstruction = instruction{
		Name: func(op opcode) string {
			return fmt.Sprintf("ldr v0-v%x", op.x())
		},
		Execute: func(_ context.Context, vm *VM, op opcode) error {
			for i := uint16(0); i <= uint16(op.x()); i++ {
				vm.registers[i] = vm.read(vm.index + i)
			}
			return nil
		},
	}
)

func boolToFlag(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
